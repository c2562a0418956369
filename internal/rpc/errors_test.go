package rpc

import "testing"

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		obj  ErrorObject
		want ErrorType
	}{
		{
			name: "method not found code",
			obj:  ErrorObject{Code: -32601, Message: "Method not found"},
			want: ErrValidation,
		},
		{
			name: "klippy not ready",
			obj:  ErrorObject{Code: -32000, Message: "Klippy host not ready"},
			want: ErrNotReady,
		},
		{
			name: "file not found",
			obj:  ErrorObject{Code: 404, Message: "File not found: test.gcode"},
			want: ErrFileNotFound,
		},
		{
			name: "permission denied",
			obj:  ErrorObject{Code: 403, Message: "Permission denied"},
			want: ErrPermissionDenied,
		},
		{
			name: "generic error",
			obj:  ErrorObject{Code: -32603, Message: "Internal error"},
			want: ErrJSONRPC,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError("printer.info", &tt.obj)
			if got.Type != tt.want {
				t.Errorf("classifyError type = %s, want %s", got.Type, tt.want)
			}
			if got.Method != "printer.info" {
				t.Errorf("method = %s", got.Method)
			}
			if got.Code != tt.obj.Code {
				t.Errorf("code = %d, want %d", got.Code, tt.obj.Code)
			}
		})
	}
}
