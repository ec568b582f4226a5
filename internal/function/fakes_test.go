package function

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/HerbHall/nepenthes/internal/metrics"
	"github.com/HerbHall/nepenthes/internal/notify"
	"github.com/HerbHall/nepenthes/internal/switchbot"
)

type recordingSink struct {
	mu      sync.Mutex
	metrics []metrics.Metric
	err     error
}

func (s *recordingSink) Publish(_ context.Context, m metrics.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	return s.err
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.metrics))
	for i, m := range s.metrics {
		names[i] = m.Name
	}
	return names
}

func (s *recordingSink) find(name, dimValue string) (metrics.Metric, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.metrics {
		if m.Name != name {
			continue
		}
		if dimValue == "" && len(m.Dimensions) == 0 {
			return m, true
		}
		for _, d := range m.Dimensions {
			if d.Value == dimValue {
				return m, true
			}
		}
	}
	return metrics.Metric{}, false
}

type fakePlugs struct {
	statuses map[string]*switchbot.DeviceStatus
	errs     map[string]error
	commands []string
	cmdErr   error
}

func (p *fakePlugs) Status(_ context.Context, name string) (*switchbot.DeviceStatus, error) {
	if err := p.errs[name]; err != nil {
		return nil, err
	}
	s, ok := p.statuses[name]
	if !ok {
		return nil, &switchbot.ResolutionError{Name: name}
	}
	return s, nil
}

func (p *fakePlugs) Command(_ context.Context, name string, cmd switchbot.Command) (json.RawMessage, error) {
	p.commands = append(p.commands, name+":"+cmd.Command)
	if p.cmdErr != nil {
		return nil, p.cmdErr
	}
	return json.RawMessage(`{"items":[]}`), nil
}

type fakePager struct {
	sent []string
	res  *notify.PushResult
	err  error
}

func (p *fakePager) Send(_ context.Context, title, message string) (*notify.PushResult, error) {
	p.sent = append(p.sent, title+"\n"+message)
	if p.err != nil {
		return nil, p.err
	}
	if p.res != nil {
		return p.res, nil
	}
	return &notify.PushResult{StatusCode: 200, Body: map[string]any{"status": float64(1)}}, nil
}

type fakeTopic struct {
	subjects []string
	messages []string
	err      error
}

func (t *fakeTopic) Publish(_ context.Context, subject, message string) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	t.subjects = append(t.subjects, subject)
	t.messages = append(t.messages, message)
	return "msg-1", nil
}

var errBoom = errors.New("boom")
