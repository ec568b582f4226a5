package server

import (
	"encoding/json"
	"net/http"
)

const problemBase = "https://nepenthes.dev/problems/"

// RFC 7807 problem types returned by the invoke API.
const (
	ProblemNoRoute          = problemBase + "no-route"
	ProblemUnknownFunction  = problemBase + "unknown-function"
	ProblemBadEvent         = problemBase + "bad-event"
	ProblemFunctionFailed   = problemBase + "function-failed"
	ProblemFunctionPanicked = problemBase + "function-panicked"
	ProblemInvokeThrottled  = problemBase + "invoke-throttled"
)

// Problem is an RFC 7807 problem detail. Function names the function the
// request targeted, when there is one.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Function string `json:"function,omitempty"`
}

// writeProblem sends p with the request path as its instance.
func writeProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	p.Instance = r.URL.Path
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func noRoute(path string) Problem {
	return Problem{
		Type:   ProblemNoRoute,
		Title:  "No Such Route",
		Status: http.StatusNotFound,
		Detail: "no route for " + path,
	}
}

func unknownFunction(fn string, err error) Problem {
	return Problem{
		Type:     ProblemUnknownFunction,
		Title:    "Unknown Function",
		Status:   http.StatusNotFound,
		Detail:   err.Error(),
		Function: fn,
	}
}

func badEvent(fn, detail string) Problem {
	return Problem{
		Type:     ProblemBadEvent,
		Title:    "Bad Event",
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Function: fn,
	}
}

// functionFailed reports an error returned by the function itself, usually
// the vendor API or an AWS call behind it.
func functionFailed(fn string, err error) Problem {
	return Problem{
		Type:     ProblemFunctionFailed,
		Title:    "Function Failed",
		Status:   http.StatusBadGateway,
		Detail:   err.Error(),
		Function: fn,
	}
}

func functionPanicked(fn string) Problem {
	return Problem{
		Type:     ProblemFunctionPanicked,
		Title:    "Function Panicked",
		Status:   http.StatusInternalServerError,
		Detail:   "an unexpected error occurred",
		Function: fn,
	}
}

func invokeThrottled(fn string) Problem {
	return Problem{
		Type:     ProblemInvokeThrottled,
		Title:    "Invocation Throttled",
		Status:   http.StatusTooManyRequests,
		Detail:   "too many manual invocations from this client",
		Function: fn,
	}
}
