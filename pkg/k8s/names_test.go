package k8s

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageResourceName(t *testing.T) {
	assert.Equal(t, "my-pipeline--train", StageResourceName("my-pipeline", "train"))
	assert.Equal(t, "proj--score-model", StageResourceName("Proj", "Score Model"))
}

func TestMakeValidName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Already-Valid", "already-valid"},
		{"with spaces here", "with-spaces-here"},
		{"under_scores", "under-scores"},
		{"trim!!chars##", "trimchars"},
		{"--leading-and-trailing--", "leading-and-trailing"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MakeValidName(tt.in), "input %q", tt.in)
	}
}
