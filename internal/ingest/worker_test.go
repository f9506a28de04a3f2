package ingest

import (
	"errors"
	"testing"

	"github.com/mymmrac/telego"
)

func TestFloodWaitSeconds(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    int
		wantOK  bool
	}{
		{"not an api error", errors.New("connection reset"), 0, false},
		{"api error without parameters", &telego.APIError{Description: "bad request"}, 0, false},
		{
			"api error with retry after",
			&telego.APIError{Description: "too many requests", Parameters: &telego.ResponseParameters{RetryAfter: 30}},
			30, true,
		},
		{
			"api error with zero retry after",
			&telego.APIError{Description: "bad request", Parameters: &telego.ResponseParameters{RetryAfter: 0}},
			0, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := floodWaitSeconds(tt.err)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("floodWaitSeconds() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestState_StatusStrings(t *testing.T) {
	tests := []struct {
		state state
		want  string
	}{
		{stateInit, "init"},
		{stateLive, "live"},
		{stateStopped, "stopped"},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if string(tt.state) != tt.want {
				t.Errorf("state = %q, want %q", tt.state, tt.want)
			}
		})
	}
}
