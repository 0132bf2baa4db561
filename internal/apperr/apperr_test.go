package apperr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestAsLooksThroughWrapping(t *testing.T) {
	err := errors.Wrap(Conflict("sticker", "s-1", "status=EnUso plate=ABC123", "sticker is not available"), "claim")

	e, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, KindConflict, e.Kind)
	assert.Equal(t, "sticker", e.Entity)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, Is(err, KindConflict))
	assert.False(t, Is(err, KindNotFound))
}

func TestErrorsIsMatchesKindAndEntity(t *testing.T) {
	err := NotFound("application", "a-1", "application not found")

	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound, Entity: "application"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound, Entity: "sticker"}))
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with state",
			err:  IllegalTransition("application", "a-1", "status=Completado result=Apto result2=unset", "terminal"),
			want: "ILLEGAL_TRANSITION[application a-1]: terminal (status=Completado result=Apto result2=unset)",
		},
		{
			name: "exhausted pool",
			err:  NoStickersAvailable("taller-a", 3),
			want: "NO_STICKERS_AVAILABLE[workshop taller-a]: no stickers available (candidates_tried=3)",
		},
		{
			name: "without state",
			err:  InvalidStep("i-1", "gnc"),
			want: `INVALID_STEP[inspection i-1]: step "gnc" is not configured for this workshop`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOfUntyped(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
