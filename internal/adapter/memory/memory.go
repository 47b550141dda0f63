// Package memory provides in-memory collaborator implementations. They back
// local development and the CLI's offline mode, and double as test fixtures.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/screenless/internal/adapter"
	"github.com/openclaw/screenless/internal/person"
)

// CRM is an in-memory CRM collaborator.
type CRM struct {
	mu     sync.Mutex
	nextID int64
	people map[int64]adapter.Person
	tags   map[int64]map[string]struct{}
	events []TimelineEvent
	done   map[int64]bool
	clock  func() time.Time
}

// TimelineEvent is one recorded note, task, or logged message.
type TimelineEvent struct {
	Kind     string
	PersonID int64
	Body     string
	Subject  string
	To       string
	At       time.Time
	Meta     adapter.EventMeta
}

// NewCRM constructs an empty in-memory CRM.
func NewCRM(clock func() time.Time) *CRM {
	if clock == nil {
		clock = time.Now
	}
	return &CRM{
		people: map[int64]adapter.Person{},
		tags:   map[int64]map[string]struct{}{},
		done:   map[int64]bool{},
		clock:  clock,
	}
}

// Events returns a copy of the recorded timeline.
func (c *CRM) Events() []TimelineEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TimelineEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *CRM) SearchPeople(_ context.Context, query string) ([]adapter.Person, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	query = strings.ToLower(strings.TrimSpace(query))
	var found []adapter.Person
	for _, p := range c.people {
		if query == "" || strings.Contains(strings.ToLower(p.Name), query) || containsFold(p.Emails, query) || containsFold(p.Phones, query) {
			found = append(found, c.withTags(p))
		}
	}
	return found, nil
}

func (c *CRM) GetPersonByID(_ context.Context, id int64) (adapter.Person, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.people[id]
	if !ok {
		return adapter.Person{}, person.ErrNotFound
	}
	return c.withTags(p), nil
}

func (c *CRM) FindPersonByRef(_ context.Context, lookup adapter.PersonLookup) (adapter.Person, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.people {
		if lookup.Email != "" && containsFold(p.Emails, strings.ToLower(lookup.Email)) {
			return c.withTags(p), nil
		}
		if lookup.Phone != "" && containsFold(p.Phones, lookup.Phone) {
			return c.withTags(p), nil
		}
		if lookup.Name != "" && strings.EqualFold(p.Name, lookup.Name) {
			return c.withTags(p), nil
		}
	}
	return adapter.Person{}, person.ErrNotFound
}

func (c *CRM) UpsertPerson(_ context.Context, input adapter.UpsertPersonInput) (adapter.Person, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.matchLocked(input)
	if !ok {
		c.nextID++
		existing = adapter.Person{ID: c.nextID}
	}
	if input.Name != "" {
		existing.Name = input.Name
	}
	if input.Stage != "" {
		existing.Stage = input.Stage
	}
	for key, value := range input.CustomFields {
		if existing.CustomFields == nil {
			existing.CustomFields = map[string]any{}
		}
		existing.CustomFields[key] = value
	}
	if input.Email != "" && !containsFold(existing.Emails, input.Email) {
		existing.Emails = append(existing.Emails, input.Email)
	}
	if input.Phone != "" && !containsFold(existing.Phones, input.Phone) {
		existing.Phones = append(existing.Phones, input.Phone)
	}
	c.people[existing.ID] = existing
	for _, tag := range input.Tags {
		c.addTagLocked(existing.ID, tag)
	}
	return c.withTags(existing), nil
}

func (c *CRM) matchLocked(input adapter.UpsertPersonInput) (adapter.Person, bool) {
	if input.PersonID > 0 {
		p, ok := c.people[input.PersonID]
		return p, ok
	}
	for _, p := range c.people {
		if input.Email != "" && containsFold(p.Emails, input.Email) {
			return p, true
		}
		if input.Phone != "" && containsFold(p.Phones, input.Phone) {
			return p, true
		}
		if input.Name != "" && strings.EqualFold(p.Name, input.Name) {
			return p, true
		}
	}
	return adapter.Person{}, false
}

func (c *CRM) AddTag(_ context.Context, personID int64, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.people[personID]; !ok {
		return person.ErrNotFound
	}
	c.addTagLocked(personID, tag)
	return nil
}

func (c *CRM) RemoveTag(_ context.Context, personID int64, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.people[personID]; !ok {
		return person.ErrNotFound
	}
	delete(c.tags[personID], tag)
	return nil
}

func (c *CRM) CreateNote(_ context.Context, personID int64, body string, meta adapter.EventMeta) (adapter.CreatedRecord, error) {
	return c.appendEvent("note", personID, body, "", "", c.clock(), meta)
}

func (c *CRM) CreateTask(_ context.Context, personID int64, title, dueAt, description string, meta adapter.EventMeta) (adapter.CreatedRecord, error) {
	return c.appendEvent("task", personID, title+"|"+dueAt+"|"+description, "", "", c.clock(), meta)
}

func (c *CRM) CompleteTask(_ context.Context, taskID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[taskID] = true
	return nil
}

func (c *CRM) LogCall(_ context.Context, personID int64, body string, at time.Time, meta adapter.EventMeta) (adapter.CreatedRecord, error) {
	return c.appendEvent("call", personID, body, "", "", at, meta)
}

func (c *CRM) LogEmail(_ context.Context, personID int64, subject, body string, at time.Time, to string, meta adapter.EventMeta) (adapter.CreatedRecord, error) {
	return c.appendEvent("email", personID, body, subject, to, at, meta)
}

func (c *CRM) LogText(_ context.Context, personID int64, body string, at time.Time, to string, meta adapter.EventMeta) (adapter.CreatedRecord, error) {
	return c.appendEvent("text", personID, body, "", to, at, meta)
}

func (c *CRM) appendEvent(kind string, personID int64, body, subject, to string, at time.Time, meta adapter.EventMeta) (adapter.CreatedRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, TimelineEvent{
		Kind:     kind,
		PersonID: personID,
		Body:     body,
		Subject:  subject,
		To:       to,
		At:       at,
		Meta:     meta,
	})
	return adapter.CreatedRecord{ID: fmt.Sprintf("%s-%d", kind, len(c.events))}, nil
}

func (c *CRM) addTagLocked(personID int64, tag string) {
	if c.tags[personID] == nil {
		c.tags[personID] = map[string]struct{}{}
	}
	c.tags[personID][tag] = struct{}{}
}

func (c *CRM) withTags(p adapter.Person) adapter.Person {
	tags := make([]string, 0, len(c.tags[p.ID]))
	for tag := range c.tags[p.ID] {
		tags = append(tags, tag)
	}
	p.Tags = tags
	return p
}

func containsFold(values []string, want string) bool {
	for _, value := range values {
		if strings.EqualFold(value, want) {
			return true
		}
	}
	return false
}

// Listings is an in-memory listing collaborator.
type Listings struct {
	mu      sync.Mutex
	records []adapter.Listing
}

// NewListings constructs a listing collaborator seeded with records.
func NewListings(records ...adapter.Listing) *Listings {
	return &Listings{records: records}
}

func (l *Listings) SearchListings(_ context.Context, query map[string]any) ([]adapter.Listing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	city, _ := query["city"].(string)
	var found []adapter.Listing
	for _, record := range l.records {
		if city == "" || strings.EqualFold(record.City, city) {
			found = append(found, record)
		}
	}
	return found, nil
}

func (l *Listings) GetListingByMLSID(_ context.Context, mlsID string) (adapter.Listing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range l.records {
		if record.MLSID == mlsID {
			return record, nil
		}
	}
	return adapter.Listing{}, fmt.Errorf("listing %q not found", mlsID)
}

func (l *Listings) GetListingByAddress(_ context.Context, address string) (adapter.Listing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range l.records {
		if strings.EqualFold(record.Address, address) {
			return record, nil
		}
	}
	return adapter.Listing{}, fmt.Errorf("listing at %q not found", address)
}

// Outbox is an in-memory channel sender covering SMS, email, voice, and the
// outbound-only transport.
type Outbox struct {
	mu    sync.Mutex
	sent  []Sent
	clock func() time.Time
}

// Sent is one recorded delivery.
type Sent struct {
	Channel string
	Message adapter.OutboundMessage
}

// NewOutbox constructs an outbox.
func NewOutbox(clock func() time.Time) *Outbox {
	if clock == nil {
		clock = time.Now
	}
	return &Outbox{clock: clock}
}

// Deliveries returns a copy of the recorded deliveries.
func (o *Outbox) Deliveries() []Sent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Sent, len(o.sent))
	copy(out, o.sent)
	return out
}

func (o *Outbox) SendSMS(_ context.Context, message adapter.OutboundMessage) (adapter.OutboundResult, error) {
	return o.deliver("sms", message)
}

func (o *Outbox) SendEmail(_ context.Context, message adapter.OutboundMessage) (adapter.OutboundResult, error) {
	return o.deliver("email", message)
}

func (o *Outbox) SendVoiceMessage(_ context.Context, message adapter.OutboundMessage) (adapter.OutboundResult, error) {
	return o.deliver("voice", message)
}

func (o *Outbox) Send(_ context.Context, channel string, message adapter.OutboundMessage) (adapter.OutboundResult, error) {
	return o.deliver(channel, message)
}

func (o *Outbox) deliver(channel string, message adapter.OutboundMessage) (adapter.OutboundResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, Sent{Channel: channel, Message: message})
	return adapter.OutboundResult{
		Provider:          "memory",
		ProviderMessageID: fmt.Sprintf("mem-%s-%d", channel, len(o.sent)),
		To:                message.To,
		SentAt:            o.clock().UTC(),
	}, nil
}

// Voicemail is an in-memory ringless voicemail collaborator.
type Voicemail struct {
	mu        sync.Mutex
	campaigns map[string]adapter.VoicemailCampaign
	audio     []adapter.VoicemailAudioFile
}

// NewVoicemail constructs a voicemail collaborator seeded with audio files.
func NewVoicemail(audio ...adapter.VoicemailAudioFile) *Voicemail {
	return &Voicemail{
		campaigns: map[string]adapter.VoicemailCampaign{},
		audio:     audio,
	}
}

func (v *Voicemail) DropVoicemail(_ context.Context, request adapter.VoicemailDropRequest) (adapter.VoicemailReceipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := fmt.Sprintf("camp-%d", len(v.campaigns)+1)
	v.campaigns[id] = adapter.VoicemailCampaign{
		CampaignID: id,
		Status:     "scheduled",
		Delivered:  0,
		Failed:     0,
	}
	return adapter.VoicemailReceipt{CampaignID: id, Accepted: len(request.PhoneNumbers)}, nil
}

func (v *Voicemail) ListAudioFiles(context.Context) ([]adapter.VoicemailAudioFile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]adapter.VoicemailAudioFile, len(v.audio))
	copy(out, v.audio)
	return out, nil
}

func (v *Voicemail) CampaignStatus(_ context.Context, campaignID string) (adapter.VoicemailCampaign, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	campaign, ok := v.campaigns[campaignID]
	if !ok {
		return adapter.VoicemailCampaign{}, fmt.Errorf("campaign %q not found", campaignID)
	}
	return campaign, nil
}
