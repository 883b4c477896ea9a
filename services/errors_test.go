package services

import (
	"testing"

	"grubs-service/repository"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrInvalidAmount, KindValidation},
		{errors.Wrap(ErrInvalidEvent, "radius"), KindValidation},
		{errors.Wrapf(ErrEventNotAcceptingCheckins, "event is %s", "ended"), KindValidation},
		{ErrAlreadyCheckedIn, KindValidation},
		{ErrEventNotFound, KindNotFound},
		{repository.ErrNotFound, KindNotFound},
		{ErrNotAdmin, KindAuthorization},
		{ErrNotAMember, KindAuthorization},
		{ErrInsufficientBalance, KindInsufficientBalance},
		{errors.Wrap(repository.ErrContention, "apply"), KindContention},
		{ErrEventFrozen, KindConflict},
		{ErrTickInProgress, KindConflict},
		{errors.Wrapf(ErrIdempotencyMismatch, "key %q", "k"), KindConflict},
		{errors.New("disk on fire"), KindInternal},
		{nil, KindInternal},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
	assert.True(t, KindContention.Retryable())
	assert.False(t, KindConflict.Retryable())
	assert.Equal(t, "insufficient_balance", KindInsufficientBalance.String())
}
