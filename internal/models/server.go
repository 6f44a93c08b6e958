// Package models defines the domain types for the server directory.
package models

import (
	"strings"
	"time"
)

// DefaultPort is applied when a new server is submitted without a port.
const DefaultPort = 25565

// DefaultMaxPlayers is applied when a new server is submitted without a capacity.
const DefaultMaxPlayers = 100

// Server is a listed game server. It is the authoritative record; the search
// projection is derived from it.
type Server struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Address         string    `json:"address"`
	Port            int       `json:"port"`
	Version         string    `json:"version"`
	Description     string    `json:"description"`
	LongDescription string    `json:"longDescription,omitempty"`
	PlayerCount     int       `json:"playerCount"`
	MaxPlayers      int       `json:"maxPlayers"`
	MOTD            string    `json:"motd,omitempty"`
	IconURL         string    `json:"iconUrl,omitempty"`
	BannerURL       string    `json:"bannerUrl,omitempty"`
	Gamemode        string    `json:"gamemode,omitempty"`
	Tags            []string  `json:"tags"`
	Language        string    `json:"language,omitempty"`
	Region          string    `json:"region,omitempty"`
	Online          bool      `json:"online"`
	Uptime          *int      `json:"uptime,omitempty"`
	Latency         *int      `json:"latency,omitempty"`
	Website         string    `json:"website,omitempty"`
	Discord         string    `json:"discord,omitempty"`
	Claimed         bool      `json:"claimed"`
	OwnerID         string    `json:"ownerId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	LastSeenAt      time.Time `json:"lastSeenAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ServerPatch carries a partial update. Nil fields are left untouched.
type ServerPatch struct {
	Name            *string   `json:"name,omitempty"`
	Address         *string   `json:"address,omitempty"`
	Port            *int      `json:"port,omitempty"`
	Version         *string   `json:"version,omitempty"`
	Description     *string   `json:"description,omitempty"`
	LongDescription *string   `json:"longDescription,omitempty"`
	PlayerCount     *int      `json:"playerCount,omitempty"`
	MaxPlayers      *int      `json:"maxPlayers,omitempty"`
	MOTD            *string   `json:"motd,omitempty"`
	IconURL         *string   `json:"iconUrl,omitempty"`
	BannerURL       *string   `json:"bannerUrl,omitempty"`
	Gamemode        *string   `json:"gamemode,omitempty"`
	Tags            *[]string `json:"tags,omitempty"`
	Language        *string   `json:"language,omitempty"`
	Region          *string   `json:"region,omitempty"`
	Online          *bool     `json:"online,omitempty"`
	Uptime          *int      `json:"uptime,omitempty"`
	Latency         *int      `json:"latency,omitempty"`
	Website         *string   `json:"website,omitempty"`
	Discord         *string   `json:"discord,omitempty"`
	Claimed         *bool     `json:"claimed,omitempty"`
	OwnerID         *string   `json:"ownerId,omitempty"`
}

// Apply merges the non-nil fields of p onto s.
func (p ServerPatch) Apply(s *Server) {
	setString(&s.Name, p.Name)
	setString(&s.Address, p.Address)
	setInt(&s.Port, p.Port)
	setString(&s.Version, p.Version)
	setString(&s.Description, p.Description)
	setString(&s.LongDescription, p.LongDescription)
	setInt(&s.PlayerCount, p.PlayerCount)
	setInt(&s.MaxPlayers, p.MaxPlayers)
	setString(&s.MOTD, p.MOTD)
	setString(&s.IconURL, p.IconURL)
	setString(&s.BannerURL, p.BannerURL)
	setString(&s.Gamemode, p.Gamemode)
	if p.Tags != nil {
		s.Tags = append([]string{}, (*p.Tags)...)
	}
	setString(&s.Language, p.Language)
	setString(&s.Region, p.Region)
	if p.Online != nil {
		s.Online = *p.Online
	}
	if p.Uptime != nil {
		v := *p.Uptime
		s.Uptime = &v
	}
	if p.Latency != nil {
		v := *p.Latency
		s.Latency = &v
	}
	setString(&s.Website, p.Website)
	setString(&s.Discord, p.Discord)
	if p.Claimed != nil {
		s.Claimed = *p.Claimed
	}
	setString(&s.OwnerID, p.OwnerID)
}

// IsEmpty reports whether the patch changes nothing.
func (p ServerPatch) IsEmpty() bool {
	return p == ServerPatch{}
}

// StatsSnapshot is an append-only point in a server's player-count history.
type StatsSnapshot struct {
	ServerID    string    `json:"serverId"`
	Timestamp   time.Time `json:"timestamp"`
	PlayerCount int       `json:"playerCount"`
	Online      bool      `json:"online"`
	Latency     *int      `json:"latency,omitempty"`
}

// NormalizeTags trims, lowercases and deduplicates tags, dropping empties.
// Order of first occurrence is kept.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ParseTags splits a comma-separated tag list and normalizes it.
func ParseTags(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return []string{}
	}
	return NormalizeTags(strings.Split(csv, ","))
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
