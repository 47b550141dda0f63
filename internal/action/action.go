// Package action defines the typed request surface of the execution engine:
// action names, roles, channels, the input sum type, and the request/result
// envelope shapes that external callers must honor.
package action

// Name identifies one executable action kind.
type Name string

const (
	PersonFind              Name = "person.find"
	PersonUpsert            Name = "person.upsert"
	PersonTagAdd            Name = "person.tag.add"
	PersonTagRemove         Name = "person.tag.remove"
	NoteCreate              Name = "note.create"
	TaskCreate              Name = "task.create"
	TaskComplete            Name = "task.complete"
	MessageSend             Name = "message.send"
	MessageLogToCRM         Name = "message.logToFUB"
	VoicemailDrop           Name = "voicemail.drop"
	VoicemailAudioList      Name = "voicemail.audio.list"
	VoicemailCampaignStatus Name = "voicemail.campaign.status"
	ListingSearch           Name = "listing.search"
	ListingGet              Name = "listing.get"
	SummaryGenerate         Name = "summary.generate"
)

// Valid reports whether the name is a known action kind.
func (n Name) Valid() bool {
	switch n {
	case PersonFind, PersonUpsert, PersonTagAdd, PersonTagRemove,
		NoteCreate, TaskCreate, TaskComplete,
		MessageSend, MessageLogToCRM,
		VoicemailDrop, VoicemailAudioList, VoicemailCampaignStatus,
		ListingSearch, ListingGet, SummaryGenerate:
		return true
	}
	return false
}

// Channel identifies an outbound message transport.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelIMessage Channel = "imessage"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelVoice    Channel = "voice"
)

// Valid reports whether the channel is supported.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelIMessage, ChannelWhatsApp, ChannelVoice:
		return true
	}
	return false
}

// Role identifies the caller's entitlement tier.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleAssistant  Role = "assistant"
	RoleAutomation Role = "automation"
	RoleReadonly   Role = "readonly"
)

// Valid reports whether the role is a known tier.
func (r Role) Valid() bool {
	switch r {
	case RoleOperator, RoleAssistant, RoleAutomation, RoleReadonly:
		return true
	}
	return false
}
