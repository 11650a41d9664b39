package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := InvalidField("open price", "abc")
	wrapped := fmt.Errorf("candle 3: %w", base)

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindValidation))
	assert.EqualError(t, base, "invalid open price: abc")
}

func TestUnclassifiedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestBuildKeepsDiagnostics(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Build("sma", "  main.go:3:1: syntax error\n", cause)

	assert.Equal(t, KindBuild, KindOf(err))
	assert.Equal(t, "build sma: main.go:3:1: syntax error: exit status 1", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestNilPassThrough(t *testing.T) {
	assert.NoError(t, Execution("tick", nil))
	assert.NoError(t, Wrap(KindNotFound, "load", nil))
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindValidation: "validation",
		KindNotFound:   "not_found",
		KindBuild:      "build",
		KindExecution:  "execution",
		KindInternal:   "internal",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}
