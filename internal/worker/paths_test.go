package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathTranslator_Translate(t *testing.T) {
	tr := NewPathTranslator("/data", "/host/data")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"nested path", "/data/projects/app", "/host/data/projects/app"},
		{"volume root", "/data", "/host/data"},
		{"outside volume", "/other/path", "/other/path"},
		{"prefix but not a child", "/database/x", "/database/x"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.Translate(tt.in))
		})
	}
}

func TestPathTranslator_TrailingSlashes(t *testing.T) {
	tr := NewPathTranslator("/data/", "/host/data/")
	assert.Equal(t, "/host/data/x", tr.Translate("/data/x"))
	assert.Equal(t, "/host/data", tr.Translate("/data"))
}

func TestPathTranslator_IdentityWithoutHostPath(t *testing.T) {
	tr := NewPathTranslator("/data", "")
	assert.Equal(t, "/data/projects/app", tr.Translate("/data/projects/app"))
}
