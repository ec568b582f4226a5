package switchbot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeVendor mimics the SwitchBot v1.1 API and records calls.
type fakeVendor struct {
	mu sync.Mutex

	devices  []Device
	listCode int
	// statusCodes holds per-device envelope codes consumed in order;
	// once exhausted, 100 is returned.
	statusCodes map[string][]int
	power       string
	current     float64

	listCalls   int
	statusCalls map[string]int
	commands    []Command
}

func newFakeVendor(t *testing.T, devices ...Device) (*fakeVendor, *httptest.Server) {
	t.Helper()
	v := &fakeVendor{
		devices:     devices,
		listCode:    StatusSuccess,
		statusCodes: make(map[string][]int),
		power:       "on",
		current:     5.2,
		statusCalls: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1.1/devices", func(w http.ResponseWriter, r *http.Request) {
		if !validSignature(r) {
			http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		v.mu.Lock()
		v.listCalls++
		code := v.listCode
		devs := v.devices
		v.mu.Unlock()
		writeEnvelope(w, code, map[string]any{"deviceList": devs})
	})
	mux.HandleFunc("GET /v1.1/devices/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if !validSignature(r) {
			http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		id := r.PathValue("id")
		v.mu.Lock()
		v.statusCalls[id]++
		code := v.nextCode(id)
		body := map[string]any{
			"deviceId":        id,
			"deviceType":      PlugMiniJP,
			"power":           v.power,
			"electricCurrent": v.current,
			"voltage":         100.4,
		}
		v.mu.Unlock()
		writeEnvelope(w, code, body)
	})
	mux.HandleFunc("POST /v1.1/devices/{id}/commands", func(w http.ResponseWriter, r *http.Request) {
		if !validSignature(r) {
			http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		var cmd Command
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		id := r.PathValue("id")
		v.mu.Lock()
		v.commands = append(v.commands, cmd)
		code := v.nextCode(id)
		v.mu.Unlock()
		writeEnvelope(w, code, map[string]any{"items": []any{}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return v, srv
}

// nextCode must be called with v.mu held.
func (v *fakeVendor) nextCode(id string) int {
	codes := v.statusCodes[id]
	if len(codes) == 0 {
		return StatusSuccess
	}
	v.statusCodes[id] = codes[1:]
	return codes[0]
}

func (v *fakeVendor) lists() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.listCalls
}

func (v *fakeVendor) sentCommands() []Command {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Command(nil), v.commands...)
}

func (v *fakeVendor) statuses(id string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.statusCalls[id]
}

func validSignature(r *http.Request) bool {
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(r.Header.Get("Authorization") + r.Header.Get("t") + r.Header.Get("nonce")))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return r.Header.Get("Authorization") == "test-token" && r.Header.Get("sign") == want
}

func writeEnvelope(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"statusCode": code,
		"message":    "success",
		"body":       body,
	})
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{
		Token:     "test-token",
		SecretKey: "test-secret",
		BaseURL:   srv.URL,
		Timeout:   5 * time.Second,
	})
}

func plug(name, id string) Device {
	return Device{DeviceID: id, DeviceName: name, DeviceType: PlugMiniJP, EnableCloudService: true}
}
