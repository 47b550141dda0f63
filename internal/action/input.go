package action

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Input is the tagged union of per-action payloads. Exactly one concrete
// variant exists per action kind; DecodeInput dispatches on the wire
// discriminator and unknown kinds are rejected.
type Input interface {
	Action() Name
	validate() []string
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// PersonRef is a loose reference to a CRM contact. A valid reference carries
// at least one identifying field.
type PersonRef struct {
	PersonID int64  `json:"personId,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Empty reports whether the reference carries no identifying field.
func (r PersonRef) Empty() bool {
	return r.PersonID == 0 && r.Email == "" && r.Phone == "" && r.Name == ""
}

func (r PersonRef) fieldViolations(prefix string) []string {
	var bad []string
	if r.Email != "" && !emailPattern.MatchString(r.Email) {
		bad = append(bad, prefix+".email")
	}
	if r.Phone != "" && len(r.Phone) < 5 {
		bad = append(bad, prefix+".phone")
	}
	return bad
}

// UpsertPerson extends a person reference with writable CRM fields.
type UpsertPerson struct {
	PersonRef
	Tags         []string       `json:"tags,omitempty"`
	Stage        string         `json:"stage,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
}

// PersonFindInput searches CRM contacts by free-text query.
type PersonFindInput struct {
	Query string `json:"query"`
}

func (PersonFindInput) Action() Name { return PersonFind }
func (in PersonFindInput) validate() []string {
	if strings.TrimSpace(in.Query) == "" {
		return []string{"input.query"}
	}
	return nil
}

// PersonUpsertInput creates or updates a CRM contact.
type PersonUpsertInput struct {
	Person UpsertPerson `json:"person"`
}

func (PersonUpsertInput) Action() Name { return PersonUpsert }
func (in PersonUpsertInput) validate() []string {
	return in.Person.fieldViolations("input.person")
}

// PersonTagAddInput attaches a tag to a contact.
type PersonTagAddInput struct {
	Person PersonRef `json:"person"`
	Tag    string    `json:"tag"`
}

func (PersonTagAddInput) Action() Name { return PersonTagAdd }
func (in PersonTagAddInput) validate() []string {
	bad := in.Person.fieldViolations("input.person")
	if strings.TrimSpace(in.Tag) == "" {
		bad = append(bad, "input.tag")
	}
	return bad
}

// PersonTagRemoveInput detaches a tag from a contact.
type PersonTagRemoveInput struct {
	Person PersonRef `json:"person"`
	Tag    string    `json:"tag"`
}

func (PersonTagRemoveInput) Action() Name { return PersonTagRemove }
func (in PersonTagRemoveInput) validate() []string {
	bad := in.Person.fieldViolations("input.person")
	if strings.TrimSpace(in.Tag) == "" {
		bad = append(bad, "input.tag")
	}
	return bad
}

// NoteCreateInput records a note on a contact timeline.
type NoteCreateInput struct {
	Person PersonRef `json:"person"`
	Text   string    `json:"text"`
}

func (NoteCreateInput) Action() Name { return NoteCreate }
func (in NoteCreateInput) validate() []string {
	bad := in.Person.fieldViolations("input.person")
	if strings.TrimSpace(in.Text) == "" {
		bad = append(bad, "input.text")
	}
	return bad
}

// TaskCreateInput creates a follow-up task for a contact.
type TaskCreateInput struct {
	Person      PersonRef `json:"person"`
	Title       string    `json:"title"`
	DueAt       string    `json:"dueAt,omitempty"`
	Description string    `json:"description,omitempty"`
}

func (TaskCreateInput) Action() Name { return TaskCreate }
func (in TaskCreateInput) validate() []string {
	bad := in.Person.fieldViolations("input.person")
	if strings.TrimSpace(in.Title) == "" {
		bad = append(bad, "input.title")
	}
	return bad
}

// TaskCompleteInput marks an existing task as done.
type TaskCompleteInput struct {
	TaskID int64 `json:"taskId"`
}

func (TaskCompleteInput) Action() Name { return TaskComplete }
func (in TaskCompleteInput) validate() []string {
	if in.TaskID <= 0 {
		return []string{"input.taskId"}
	}
	return nil
}

// MessageSendInput dispatches one outbound message on a channel.
type MessageSendInput struct {
	Channel  Channel    `json:"channel"`
	To       string     `json:"to"`
	Body     string     `json:"body"`
	Subject  string     `json:"subject,omitempty"`
	From     string     `json:"from,omitempty"`
	Person   *PersonRef `json:"person,omitempty"`
	LogToCRM bool       `json:"logToFub"`
}

func (MessageSendInput) Action() Name { return MessageSend }
func (in MessageSendInput) validate() []string {
	var bad []string
	if !in.Channel.Valid() {
		bad = append(bad, "input.channel")
	}
	if len(strings.TrimSpace(in.To)) < 3 {
		bad = append(bad, "input.to")
	}
	if in.Body == "" {
		bad = append(bad, "input.body")
	}
	if in.Person != nil {
		bad = append(bad, in.Person.fieldViolations("input.person")...)
	}
	return bad
}

// UnmarshalJSON applies the logToFub=true default.
func (in *MessageSendInput) UnmarshalJSON(data []byte) error {
	type wire MessageSendInput
	aux := struct {
		*wire
		LogToCRM *bool `json:"logToFub"`
	}{wire: (*wire)(in)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	in.LogToCRM = aux.LogToCRM == nil || *aux.LogToCRM
	return nil
}

// MessageLogInput mirrors an already-sent message into the CRM timeline.
type MessageLogInput struct {
	Channel           Channel   `json:"channel"`
	To                string    `json:"to"`
	Body              string    `json:"body"`
	Person            PersonRef `json:"person"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	SentAt            string    `json:"sentAt,omitempty"`
}

func (MessageLogInput) Action() Name { return MessageLogToCRM }
func (in MessageLogInput) validate() []string {
	var bad []string
	if !in.Channel.Valid() {
		bad = append(bad, "input.channel")
	}
	bad = append(bad, in.Person.fieldViolations("input.person")...)
	return bad
}

// VoicemailAudio selects the recording for a voicemail drop.
type VoicemailAudio struct {
	AudioURL     string `json:"audioUrl,omitempty"`
	SlyAudioName string `json:"slyAudioName,omitempty"`
}

// VoicemailDropInput schedules a ringless voicemail campaign.
type VoicemailDropInput struct {
	PhoneNumbers []string       `json:"phoneNumbers"`
	Audio        VoicemailAudio `json:"audio"`
	CampaignName string         `json:"campaignName,omitempty"`
	CallerID     string         `json:"callerId,omitempty"`
	SendDate     string         `json:"sendDate,omitempty"`
	SendTime     string         `json:"sendTime,omitempty"`
	Timezone     string         `json:"timezone,omitempty"`
	RepeatDays   []int          `json:"repeatDays,omitempty"`
}

func (VoicemailDropInput) Action() Name { return VoicemailDrop }
func (in VoicemailDropInput) validate() []string {
	var bad []string
	if len(in.PhoneNumbers) == 0 {
		bad = append(bad, "input.phoneNumbers")
	}
	for _, phone := range in.PhoneNumbers {
		if len(phone) < 5 {
			bad = append(bad, "input.phoneNumbers")
			break
		}
	}
	if in.Audio.AudioURL == "" && in.Audio.SlyAudioName == "" {
		bad = append(bad, "input.audio")
	}
	for _, day := range in.RepeatDays {
		if day < 0 || day > 6 {
			bad = append(bad, "input.repeatDays")
			break
		}
	}
	return bad
}

// VoicemailAudioListInput lists available voicemail recordings.
type VoicemailAudioListInput struct{}

func (VoicemailAudioListInput) Action() Name      { return VoicemailAudioList }
func (VoicemailAudioListInput) validate() []string { return nil }

// VoicemailCampaignStatusInput reads the status of a voicemail campaign.
type VoicemailCampaignStatusInput struct {
	CampaignID string `json:"campaignId"`
}

func (VoicemailCampaignStatusInput) Action() Name { return VoicemailCampaignStatus }
func (in VoicemailCampaignStatusInput) validate() []string {
	if strings.TrimSpace(in.CampaignID) == "" {
		return []string{"input.campaignId"}
	}
	return nil
}

// ListingSearchInput queries the listing collaborator.
type ListingSearchInput struct {
	Query map[string]any `json:"query"`
}

func (ListingSearchInput) Action() Name       { return ListingSearch }
func (ListingSearchInput) validate() []string { return nil }

// ListingGetInput fetches one listing by MLS id or address.
type ListingGetInput struct {
	MLSID   string `json:"mlsId,omitempty"`
	Address string `json:"address,omitempty"`
}

func (ListingGetInput) Action() Name { return ListingGet }
func (in ListingGetInput) validate() []string {
	if in.MLSID == "" && in.Address == "" {
		return []string{"input.mlsId", "input.address"}
	}
	return nil
}

// SummaryGenerateInput produces a static summary of supplied data.
type SummaryGenerateInput struct {
	Topic string `json:"topic"`
	Data  any    `json:"data,omitempty"`
}

func (SummaryGenerateInput) Action() Name       { return SummaryGenerate }
func (SummaryGenerateInput) validate() []string { return nil }

// DecodeInput parses the wire input union. It returns the typed variant and
// any offending field paths; an unknown discriminator is itself a violation.
func DecodeInput(raw json.RawMessage) (Input, []string, error) {
	var head struct {
		Action Name `json:"action"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, []string{"input.action"}, fmt.Errorf("decode input: %w", err)
	}

	var input Input
	switch head.Action {
	case PersonFind:
		input = &PersonFindInput{}
	case PersonUpsert:
		input = &PersonUpsertInput{}
	case PersonTagAdd:
		input = &PersonTagAddInput{}
	case PersonTagRemove:
		input = &PersonTagRemoveInput{}
	case NoteCreate:
		input = &NoteCreateInput{}
	case TaskCreate:
		input = &TaskCreateInput{}
	case TaskComplete:
		input = &TaskCompleteInput{}
	case MessageSend:
		input = &MessageSendInput{}
	case MessageLogToCRM:
		input = &MessageLogInput{}
	case VoicemailDrop:
		input = &VoicemailDropInput{}
	case VoicemailAudioList:
		input = &VoicemailAudioListInput{}
	case VoicemailCampaignStatus:
		input = &VoicemailCampaignStatusInput{}
	case ListingSearch:
		input = &ListingSearchInput{}
	case ListingGet:
		input = &ListingGetInput{}
	case SummaryGenerate:
		input = &SummaryGenerateInput{}
	default:
		return nil, []string{"input.action"}, fmt.Errorf("unknown action %q", head.Action)
	}

	if err := json.Unmarshal(raw, input); err != nil {
		return nil, []string{"input"}, fmt.Errorf("decode %s input: %w", head.Action, err)
	}
	if bad := input.validate(); len(bad) > 0 {
		return nil, bad, fmt.Errorf("invalid %s input", head.Action)
	}
	return input, nil, nil
}
