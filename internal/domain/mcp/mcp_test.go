package mcp

import (
	"errors"
	"strings"
	"testing"

	"github.com/Strob0t/JellyRoute/internal/domain"
)

func TestServerDef_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     ServerDef
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid stdio server",
			def:     ServerDef{Name: "jellyfin", Transport: TransportStdio, Command: "jellyfin-mcp"},
			wantErr: false,
		},
		{
			name:    "valid sse server",
			def:     ServerDef{Name: "jellyfin", Transport: TransportSSE, URL: "http://localhost:8000/sse"},
			wantErr: false,
		},
		{
			name:    "valid http server",
			def:     ServerDef{Name: "jellyfin", Transport: TransportStreamableHTTP, URL: "http://localhost:8000/mcp"},
			wantErr: false,
		},
		{
			name:    "missing name",
			def:     ServerDef{Transport: TransportStdio, Command: "jellyfin-mcp"},
			wantErr: true,
			errMsg:  "name is required",
		},
		{
			name:    "missing transport",
			def:     ServerDef{Name: "jellyfin"},
			wantErr: true,
			errMsg:  "transport is required",
		},
		{
			name:    "invalid transport",
			def:     ServerDef{Name: "jellyfin", Transport: "grpc"},
			wantErr: true,
			errMsg:  "invalid transport",
		},
		{
			name:    "stdio without command",
			def:     ServerDef{Name: "jellyfin", Transport: TransportStdio},
			wantErr: true,
			errMsg:  "command is required",
		},
		{
			name:    "http without url",
			def:     ServerDef{Name: "jellyfin", Transport: TransportStreamableHTTP},
			wantErr: true,
			errMsg:  "url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, domain.ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestServerDef_ResolveTransport(t *testing.T) {
	tests := []struct {
		name string
		def  ServerDef
		want TransportType
	}{
		{"explicit wins", ServerDef{Transport: TransportSSE, URL: "http://x/mcp"}, TransportSSE},
		{"command", ServerDef{Command: "jellyfin-mcp"}, TransportStdio},
		{"sse url", ServerDef{URL: "http://localhost:8000/SSE"}, TransportSSE},
		{"plain url", ServerDef{URL: "http://localhost:8000/mcp"}, TransportStreamableHTTP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := tt.def
			def.ResolveTransport()
			if def.Transport != tt.want {
				t.Errorf("got %q, want %q", def.Transport, tt.want)
			}
		})
	}
}
