// Package adapter declares the collaborator capabilities the engine consumes.
// Concrete REST adapters live outside this module; each implementation owns
// its own retries and deadlines.
package adapter

import (
	"context"
	"time"
)

// Person is a canonical CRM contact record.
type Person struct {
	ID           int64          `json:"id"`
	FirstName    string         `json:"firstName,omitempty"`
	LastName     string         `json:"lastName,omitempty"`
	Name         string         `json:"name,omitempty"`
	Emails       []string       `json:"emails,omitempty"`
	Phones       []string       `json:"phones,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Stage        string         `json:"stage,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
}

// PersonLookup carries the identifying fields of a search or create call.
type PersonLookup struct {
	Email string
	Phone string
	Name  string
}

// UpsertPersonInput carries the writable fields of a create-or-update call.
// PersonID, when set, targets an existing record directly.
type UpsertPersonInput struct {
	PersonLookup
	PersonID     int64
	Tags         []string
	Stage        string
	CustomFields map[string]any
}

// EventMeta tags CRM writes with request provenance.
type EventMeta struct {
	Source        string
	CorrelationID string
	Extra         map[string]string
}

// CreatedRecord identifies a note or task created in the CRM.
type CreatedRecord struct {
	ID string `json:"id"`
}

// CRM is the person/timeline capability set of the CRM collaborator.
type CRM interface {
	SearchPeople(ctx context.Context, query string) ([]Person, error)
	GetPersonByID(ctx context.Context, id int64) (Person, error)
	FindPersonByRef(ctx context.Context, lookup PersonLookup) (Person, error)
	UpsertPerson(ctx context.Context, input UpsertPersonInput) (Person, error)
	AddTag(ctx context.Context, personID int64, tag string) error
	RemoveTag(ctx context.Context, personID int64, tag string) error
	CreateNote(ctx context.Context, personID int64, body string, meta EventMeta) (CreatedRecord, error)
	CreateTask(ctx context.Context, personID int64, title, dueAt, description string, meta EventMeta) (CreatedRecord, error)
	CompleteTask(ctx context.Context, taskID int64) error
	LogCall(ctx context.Context, personID int64, body string, at time.Time, meta EventMeta) (CreatedRecord, error)
	LogEmail(ctx context.Context, personID int64, subject, body string, at time.Time, to string, meta EventMeta) (CreatedRecord, error)
	LogText(ctx context.Context, personID int64, body string, at time.Time, to string, meta EventMeta) (CreatedRecord, error)
}

// Listing is one marketplace listing record.
type Listing struct {
	ID          string         `json:"id"`
	MLSID       string         `json:"mlsId,omitempty"`
	Address     string         `json:"address"`
	City        string         `json:"city,omitempty"`
	Status      string         `json:"status,omitempty"`
	Price       float64        `json:"price,omitempty"`
	DaysOnMkt   int            `json:"dom,omitempty"`
	Beds        int            `json:"beds,omitempty"`
	Baths       float64        `json:"baths,omitempty"`
	Sqft        int            `json:"sqft,omitempty"`
	LastUpdated string         `json:"lastUpdated,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
}

// Listings is the listing search capability set.
type Listings interface {
	SearchListings(ctx context.Context, query map[string]any) ([]Listing, error)
	GetListingByMLSID(ctx context.Context, mlsID string) (Listing, error)
	GetListingByAddress(ctx context.Context, address string) (Listing, error)
}

// OutboundMessage is one message to deliver on a channel.
type OutboundMessage struct {
	To      string
	Body    string
	Subject string
	From    string
}

// OutboundResult reports a completed channel delivery.
type OutboundResult struct {
	Provider          string    `json:"provider"`
	ProviderMessageID string    `json:"providerMessageId"`
	To                string    `json:"to"`
	SentAt            time.Time `json:"sentAt"`
}

// SMSSender delivers SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, message OutboundMessage) (OutboundResult, error)
}

// EmailSender delivers email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, message OutboundMessage) (OutboundResult, error)
}

// VoiceSender delivers synthesized voice messages.
type VoiceSender interface {
	SendVoiceMessage(ctx context.Context, message OutboundMessage) (OutboundResult, error)
}

// OutboundTransport delivers on channels without inbound logging support.
type OutboundTransport interface {
	Send(ctx context.Context, channel string, message OutboundMessage) (OutboundResult, error)
}

// VoicemailDropRequest schedules a ringless voicemail batch.
type VoicemailDropRequest struct {
	PhoneNumbers []string
	AudioURL     string
	AudioName    string
	CampaignName string
	CallerID     string
	SendDate     string
	SendTime     string
	Timezone     string
	RepeatDays   []int
}

// VoicemailReceipt reports an accepted voicemail campaign.
type VoicemailReceipt struct {
	CampaignID string `json:"campaignId"`
	Accepted   int    `json:"accepted"`
}

// VoicemailAudioFile is one reusable recording on the voicemail provider.
type VoicemailAudioFile struct {
	Name      string `json:"name"`
	Duration  int    `json:"duration,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// VoicemailCampaign reports provider-side campaign progress.
type VoicemailCampaign struct {
	CampaignID string `json:"campaignId"`
	Status     string `json:"status"`
	Delivered  int    `json:"delivered"`
	Failed     int    `json:"failed"`
}

// Voicemail is the ringless voicemail capability set.
type Voicemail interface {
	DropVoicemail(ctx context.Context, request VoicemailDropRequest) (VoicemailReceipt, error)
	ListAudioFiles(ctx context.Context) ([]VoicemailAudioFile, error)
	CampaignStatus(ctx context.Context, campaignID string) (VoicemailCampaign, error)
}
