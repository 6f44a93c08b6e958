package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/HyServers/hyservers-web/internal/models"
	"github.com/HyServers/hyservers-web/internal/serverservice"
)

// TagList accepts either a JSON array of tags or one comma-separated string.
type TagList []string

// UnmarshalJSON implements json.Unmarshaler.
func (t *TagList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = models.NormalizeTags(list)
		return nil
	}
	var csv string
	if err := json.Unmarshal(b, &csv); err != nil {
		return fmt.Errorf("tags must be an array or a comma-separated string")
	}
	*t = models.ParseTags(csv)
	return nil
}

// CreateServerRequest is the request body for adding a server.
type CreateServerRequest struct {
	Name            string  `json:"name" example:"Emerald Isle"`
	Address         string  `json:"address" example:"play.emerald.example"`
	Port            *int    `json:"port,omitempty" example:"25565"`
	Version         string  `json:"version,omitempty"`
	Description     string  `json:"description"`
	LongDescription string  `json:"longDescription,omitempty"`
	MaxPlayers      *int    `json:"maxPlayers,omitempty"`
	MOTD            string  `json:"motd,omitempty"`
	IconURL         string  `json:"iconUrl,omitempty"`
	BannerURL       string  `json:"bannerUrl,omitempty"`
	Gamemode        string  `json:"gamemode,omitempty"`
	Tags            TagList `json:"tags,omitempty"`
	Language        string  `json:"language,omitempty"`
	Region          string  `json:"region,omitempty"`
	Website         string  `json:"website,omitempty"`
	Discord         string  `json:"discord,omitempty"`
}

func (r CreateServerRequest) input() serverservice.CreateInput {
	return serverservice.CreateInput{
		Name:            r.Name,
		Address:         r.Address,
		Port:            r.Port,
		Version:         r.Version,
		Description:     r.Description,
		LongDescription: r.LongDescription,
		MaxPlayers:      r.MaxPlayers,
		MOTD:            r.MOTD,
		IconURL:         r.IconURL,
		BannerURL:       r.BannerURL,
		Gamemode:        r.Gamemode,
		Tags:            r.Tags,
		Language:        r.Language,
		Region:          r.Region,
		Website:         r.Website,
		Discord:         r.Discord,
	}
}

// UpdateServerRequest is a partial update. Omitted fields are unchanged.
type UpdateServerRequest struct {
	models.ServerPatch
	Tags *TagList `json:"tags,omitempty"`
}

func (r UpdateServerRequest) patch() models.ServerPatch {
	p := r.ServerPatch
	if r.Tags != nil {
		tags := []string(*r.Tags)
		p.Tags = &tags
	}
	return p
}

// StatsRequest is a monitoring snapshot pushed by the external monitor.
type StatsRequest struct {
	PlayerCount int        `json:"playerCount"`
	Online      bool       `json:"online"`
	Latency     *int       `json:"latency,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// LoginRequest is the admin login body.
type LoginRequest struct {
	Password string `json:"password"`
}

// ServerResponse is a server record with its entity tag.
type ServerResponse struct {
	*models.Server
	ETag string `json:"etag"`
	// IndexWarning is set when the record was saved but the search index
	// could not follow.
	IndexWarning string `json:"index_warning,omitempty"`
}

func newServerResponse(res *serverservice.Result) ServerResponse {
	out := ServerResponse{Server: res.Server, ETag: res.ETag}
	if res.IndexErr != nil {
		out.IndexWarning = indexWarning
	}
	return out
}

const indexWarning = "saved, but the search index could not be updated; run an index rebuild"

// ServerListResponse wraps the admin server table.
type ServerListResponse struct {
	Servers []models.Server `json:"servers"`
}

// DeleteResponse reports a removed server.
type DeleteResponse struct {
	ID           string `json:"id"`
	IndexWarning string `json:"index_warning,omitempty"`
}

// RebuildResponse reports a finished index rebuild.
type RebuildResponse struct {
	Documents int `json:"documents"`
}

// SessionResponse reports whether the caller holds an admin session.
type SessionResponse struct {
	Authenticated bool `json:"authenticated"`
}
