// Package entities holds the B-Perks records shared by the API and the
// offline client cache.
package entities

import "time"

// Collection names double as cache namespaces and storage collections.
const (
	Users         = "users"
	Events        = "events"
	Rewards       = "rewards"
	Reports       = "reports"
	News          = "news"
	Claims        = "claims"
	Transactions  = "transactions"
	Notifications = "notifications"
)

// SyncState tracks a record created or changed on the client until the
// backend has accepted it.
type SyncState string

const (
	SyncPending   SyncState = "pending"
	SyncConfirmed SyncState = "confirmed"
	SyncFailed    SyncState = "failed"
)

type Role string

const (
	RoleResident Role = "resident"
	RoleAdmin    Role = "admin"
)

type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	Role        Role      `json:"role"`
	Points      int       `json:"points"`
	CreatedAt   time.Time `json:"createdAt"`
	SyncState   SyncState `json:"syncState,omitempty"`
}

func (u User) RecordID() string { return u.ID }

func (u User) Sync() SyncState { return u.SyncState }

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

type Event struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	StartsAt     time.Time `json:"startsAt"`
	PointsReward int       `json:"pointsReward"`
	// Capacity of zero means unlimited.
	Capacity     int       `json:"capacity,omitempty"`
	Participants []string  `json:"participants"`
	Attended     []string  `json:"attended"`
	SyncState    SyncState `json:"syncState,omitempty"`
}

func (e Event) RecordID() string { return e.ID }

func (e Event) Sync() SyncState { return e.SyncState }

// HasParticipant reports whether userID joined the event.
func (e Event) HasParticipant(userID string) bool {
	return contains(e.Participants, userID)
}

func (e Event) HasAttended(userID string) bool {
	return contains(e.Attended, userID)
}

// Full reports whether the event has reached its capacity.
func (e Event) Full() bool {
	return e.Capacity > 0 && len(e.Participants) >= e.Capacity
}

type Reward struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PointsCost  int       `json:"pointsCost"`
	Stock       int       `json:"stock"`
	SyncState   SyncState `json:"syncState,omitempty"`
}

func (r Reward) RecordID() string { return r.ID }

func (r Reward) Sync() SyncState { return r.SyncState }

type ClaimStatus string

const (
	ClaimIssued   ClaimStatus = "issued"
	ClaimRedeemed ClaimStatus = "redeemed"
)

type Claim struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	RewardID    string      `json:"rewardId"`
	Code        string      `json:"code"`
	PointsSpent int         `json:"pointsSpent"`
	Status      ClaimStatus `json:"status"`
	ClaimedAt   time.Time   `json:"claimedAt"`
	RedeemedAt  *time.Time  `json:"redeemedAt,omitempty"`
	SyncState   SyncState   `json:"syncState,omitempty"`
}

func (c Claim) RecordID() string { return c.ID }

func (c Claim) Sync() SyncState { return c.SyncState }

// Transaction is one entry in a user's points ledger.
type Transaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	RefID     string    `json:"refId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (t Transaction) RecordID() string { return t.ID }

type ReportStatus string

const (
	ReportOpen       ReportStatus = "open"
	ReportInProgress ReportStatus = "in_progress"
	ReportResolved   ReportStatus = "resolved"
)

// Valid reports whether s is a known report status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportOpen, ReportInProgress, ReportResolved:
		return true
	}
	return false
}

type Report struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category,omitempty"`
	Status      ReportStatus `json:"status"`
	Lat         float64      `json:"lat,omitempty"`
	Lng         float64      `json:"lng,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	SyncState   SyncState    `json:"syncState,omitempty"`
}

func (r Report) RecordID() string { return r.ID }

func (r Report) Sync() SyncState { return r.SyncState }

type NewsKind string

const (
	KindNews  NewsKind = "news"
	KindAlert NewsKind = "alert"
)

type NewsItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Kind        NewsKind  `json:"kind"`
	PublishedAt time.Time `json:"publishedAt"`
}

func (n NewsItem) RecordID() string { return n.ID }

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	NewsID    string    `json:"newsId"`
	Title     string    `json:"title"`
	Kind      NewsKind  `json:"kind"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n Notification) RecordID() string { return n.ID }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
