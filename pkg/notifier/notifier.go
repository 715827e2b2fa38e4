// Package notifier contains the core domain types for the chapter notification service.
package notifier

import "time"

// Release is one chapter publication scraped from the releases listing.
type Release struct {
	UploadedAt time.Time // Always UTC
	Title      string    // Series title, matched exactly against subscriptions
	Chapter    string    // Chapter label as shown on the card, e.g. "Ch. 12"
	URL        string    // Absolute card link, empty if the card had none
}

// Key identifies a release for deduplication.
func (r Release) Key() string {
	return r.Title + "|" + r.Chapter
}

// Member is a community member that can receive direct messages.
type Member struct {
	Name  string
	Roles []string // Role IDs
	ID    int64
}

// Channel is a text channel in a community.
type Channel struct {
	ID   string
	Name string
}

// Role is a named role in a community.
type Role struct {
	ID      string
	Name    string
	Mention string // Platform-specific mention markup
}

// Community is a server the bot is a member of.
type Community struct {
	ID           string
	Name         string
	Members      []Member
	TextChannels []Channel // In listed order
	Roles        []Role
}

// RoleByName returns the first role with exactly the given name.
func (c *Community) RoleByName(name string) (Role, bool) {
	for _, r := range c.Roles {
		if r.Name == name {
			return r, true
		}
	}
	return Role{}, false
}

// Audience identifies who a notification was addressed to.
type Audience string

// Audiences a release is fanned out to.
const (
	AudienceDirect    Audience = "direct"
	AudienceBroadcast Audience = "broadcast"
	AudienceRole      Audience = "role"
)

// Tally counts delivery outcomes for one audience.
type Tally struct {
	Sent   int
	Failed int
}

// Report summarizes one fanout run.
type Report map[Audience]*Tally

// Add records one delivery outcome.
func (r Report) Add(a Audience, ok bool) {
	t := r[a]
	if t == nil {
		t = &Tally{}
		r[a] = t
	}
	if ok {
		t.Sent++
	} else {
		t.Failed++
	}
}

// Sent returns the number of successful deliveries for an audience.
func (r Report) Sent(a Audience) int {
	if t := r[a]; t != nil {
		return t.Sent
	}
	return 0
}

// Failed returns the number of failed deliveries for an audience.
func (r Report) Failed(a Audience) int {
	if t := r[a]; t != nil {
		return t.Failed
	}
	return 0
}
