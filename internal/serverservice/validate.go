package serverservice

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/HyServers/hyservers-web/internal/apperr"
	"github.com/HyServers/hyservers-web/internal/models"
)

// Field limits.
const (
	MaxNameLength        = 100
	MaxDescriptionLength = 500
	MaxLongDescription   = 20000
	MaxTagLength         = 32
	MaxTags              = 20
)

// validateServer checks a complete record. The returned error wraps
// apperr.ErrValidation and carries the per-field messages.
func validateServer(s *models.Server) error {
	err := validation.ValidateStruct(s,
		validation.Field(&s.Name, validation.Required, validation.RuneLength(1, MaxNameLength)),
		validation.Field(&s.Address, validation.Required, is.Host),
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.Description, validation.Required, validation.RuneLength(1, MaxDescriptionLength)),
		validation.Field(&s.LongDescription, validation.RuneLength(0, MaxLongDescription)),
		validation.Field(&s.PlayerCount, validation.Min(0)),
		validation.Field(&s.MaxPlayers, validation.Required, validation.Min(1)),
		validation.Field(&s.IconURL, is.URL),
		validation.Field(&s.BannerURL, is.URL),
		validation.Field(&s.Website, is.URL),
		validation.Field(&s.Discord, is.URL),
		validation.Field(&s.Tags, validation.Length(0, MaxTags),
			validation.Each(validation.RuneLength(1, MaxTagLength))),
		validation.Field(&s.Uptime, validation.Min(0), validation.Max(100)),
		validation.Field(&s.Latency, validation.Min(0)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	return nil
}
