package storage

import "testing"

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		info    string
		data    string
		wantErr bool
	}{
		{name: "valid", info: `{"schema_version":1}`, data: `{"prefix":"!"}`},
		{name: "empty columns", info: ``, data: ``},
		{name: "no version", info: `{}`, data: `{}`},
		{name: "extra info keys", info: `{"schema_version":3,"owner":"ops"}`, data: `{}`},
		{name: "data is a list", info: `{}`, data: `[1,2]`, wantErr: true},
		{name: "info is a string", info: `"v1"`, data: `{}`, wantErr: true},
		{name: "fractional version", info: `{"schema_version":1.5}`, data: `{}`, wantErr: true},
		{name: "zero version", info: `{"schema_version":0}`, data: `{}`, wantErr: true},
		{name: "malformed json", info: `{`, data: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument([]byte(tt.info), []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateDocument() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
