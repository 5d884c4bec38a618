package errs

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewError_KnownCode(t *testing.T) {
	req := require.New(t)

	err := NewError(ErrNotRoomMember)
	req.Equal(ErrNotRoomMember, err.Code)
	req.Equal(http.StatusForbidden, err.Status)
	req.NotEmpty(err.Message)
}

func TestNewError_ZeroStatusDefaultsToOK(t *testing.T) {
	err := NewError(ErrMessageContentTooLong)
	require.Equal(t, http.StatusOK, err.Status)
}

func TestNewError_FormatsTemplateDetails(t *testing.T) {
	err := NewError(ErrAttachmentCountInvalid, 3)
	require.Contains(t, err.Message, "3")
}

func TestNewError_UnknownCodeFallsBack(t *testing.T) {
	err := NewError(-1)
	require.Equal(t, ErrUnknown, err.Code)
	require.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestCustomError_ErrorString(t *testing.T) {
	err := NewError(ErrIdentityRequired)
	require.Contains(t, err.Error(), "3001")
}
