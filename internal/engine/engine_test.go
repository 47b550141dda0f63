package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openclaw/screenless/internal/action"
	"github.com/openclaw/screenless/internal/adapter"
	"github.com/openclaw/screenless/internal/adapter/memory"
	"github.com/openclaw/screenless/internal/encrypt"
	"github.com/openclaw/screenless/internal/person"
	apperrors "github.com/openclaw/screenless/internal/platform/errors"
	"github.com/openclaw/screenless/internal/redact"
	"github.com/openclaw/screenless/internal/safety"
	"github.com/openclaw/screenless/internal/storage"
	"github.com/openclaw/screenless/internal/storage/sqlite"
)

const testSecret = "test-secret-0123456789abcdef-0123456789"

type fakeStore struct {
	idem map[string]storage.IdempotencyRecord
	logs []storage.MessageLogRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{idem: map[string]storage.IdempotencyRecord{}}
}

func (f *fakeStore) GetIdempotency(_ context.Context, key string) (storage.IdempotencyRecord, error) {
	if record, ok := f.idem[key]; ok {
		return record, nil
	}
	return storage.IdempotencyRecord{}, storage.ErrNotFound
}

func (f *fakeStore) PutIdempotency(_ context.Context, record storage.IdempotencyRecord) error {
	if _, ok := f.idem[record.Key]; ok {
		return nil
	}
	f.idem[record.Key] = record
	return nil
}

func (f *fakeStore) PutMessageLog(_ context.Context, record storage.MessageLogRecord) error {
	f.logs = append(f.logs, record)
	return nil
}

type fakeCRM struct {
	searches, tagAdds, tagRemoves, notes, tasks, completes int
	texts, emailLogs, calls, personUpserts                 int
	lastUpsert                                             adapter.UpsertPersonInput
	err                                                    error
}

func (f *fakeCRM) SearchPeople(context.Context, string) ([]adapter.Person, error) {
	f.searches++
	return []adapter.Person{{ID: 1, Name: "Jane", Emails: []string{"jane@example.com"}}}, f.err
}
func (f *fakeCRM) GetPersonByID(context.Context, int64) (adapter.Person, error) {
	return adapter.Person{}, person.ErrNotFound
}
func (f *fakeCRM) FindPersonByRef(context.Context, adapter.PersonLookup) (adapter.Person, error) {
	return adapter.Person{}, person.ErrNotFound
}
func (f *fakeCRM) UpsertPerson(_ context.Context, input adapter.UpsertPersonInput) (adapter.Person, error) {
	f.personUpserts++
	f.lastUpsert = input
	return adapter.Person{ID: 9, Name: input.Name, Tags: input.Tags, Stage: input.Stage}, f.err
}
func (f *fakeCRM) AddTag(context.Context, int64, string) error {
	f.tagAdds++
	return f.err
}
func (f *fakeCRM) RemoveTag(context.Context, int64, string) error {
	f.tagRemoves++
	return f.err
}
func (f *fakeCRM) CreateNote(context.Context, int64, string, adapter.EventMeta) (adapter.CreatedRecord, error) {
	f.notes++
	return adapter.CreatedRecord{ID: "note-1"}, f.err
}
func (f *fakeCRM) CreateTask(context.Context, int64, string, string, string, adapter.EventMeta) (adapter.CreatedRecord, error) {
	f.tasks++
	return adapter.CreatedRecord{ID: "task-1"}, f.err
}
func (f *fakeCRM) CompleteTask(context.Context, int64) error {
	f.completes++
	return f.err
}
func (f *fakeCRM) LogCall(context.Context, int64, string, time.Time, adapter.EventMeta) (adapter.CreatedRecord, error) {
	f.calls++
	return adapter.CreatedRecord{ID: "call-1"}, f.err
}
func (f *fakeCRM) LogEmail(context.Context, int64, string, string, time.Time, string, adapter.EventMeta) (adapter.CreatedRecord, error) {
	f.emailLogs++
	return adapter.CreatedRecord{ID: "email-1"}, f.err
}
func (f *fakeCRM) LogText(context.Context, int64, string, time.Time, string, adapter.EventMeta) (adapter.CreatedRecord, error) {
	f.texts++
	return adapter.CreatedRecord{ID: "text-1"}, f.err
}

func (f *fakeCRM) totalCalls() int {
	return f.searches + f.tagAdds + f.tagRemoves + f.notes + f.tasks + f.completes +
		f.texts + f.emailLogs + f.calls + f.personUpserts
}

type fakeResolver struct {
	person   adapter.Person
	missing  bool
	resolves int
	upserts  int
}

func (f *fakeResolver) Resolve(context.Context, action.PersonRef) (adapter.Person, error) {
	f.resolves++
	if f.missing {
		return adapter.Person{}, person.ErrNotFound
	}
	return f.person, nil
}

func (f *fakeResolver) ResolveOrUpsert(context.Context, action.PersonRef) (adapter.Person, error) {
	f.upserts++
	return f.person, nil
}

type fakeSMS struct {
	sends int
	err   error
}

func (f *fakeSMS) SendSMS(_ context.Context, message adapter.OutboundMessage) (adapter.OutboundResult, error) {
	f.sends++
	if f.err != nil {
		return adapter.OutboundResult{}, f.err
	}
	return adapter.OutboundResult{
		Provider:          "sendhub",
		ProviderMessageID: fmt.Sprintf("msg-%d", f.sends),
		To:                message.To,
		SentAt:            time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}, nil
}

type fakeVoicemail struct {
	drops int
}

func (f *fakeVoicemail) DropVoicemail(_ context.Context, request adapter.VoicemailDropRequest) (adapter.VoicemailReceipt, error) {
	f.drops++
	return adapter.VoicemailReceipt{CampaignID: "camp-1", Accepted: len(request.PhoneNumbers)}, nil
}
func (f *fakeVoicemail) ListAudioFiles(context.Context) ([]adapter.VoicemailAudioFile, error) {
	return []adapter.VoicemailAudioFile{{Name: "followup"}}, nil
}
func (f *fakeVoicemail) CampaignStatus(context.Context, string) (adapter.VoicemailCampaign, error) {
	return adapter.VoicemailCampaign{CampaignID: "camp-1", Status: "running"}, nil
}

type fixture struct {
	engine    *Engine
	store     *fakeStore
	crm       *fakeCRM
	resolver  *fakeResolver
	sms       *fakeSMS
	voicemail *fakeVoicemail
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		store:     newFakeStore(),
		crm:       &fakeCRM{},
		resolver:  &fakeResolver{person: adapter.Person{ID: 7, Name: "Jane"}},
		sms:       &fakeSMS{},
		voicemail: &fakeVoicemail{},
	}
	deps := Deps{
		Config:    Config{EncryptionSecret: testSecret},
		Store:     f.store,
		Resolver:  f.resolver,
		CRM:       f.crm,
		SMS:       f.sms,
		Voicemail: f.voicemail,
		Clock: func() time.Time {
			return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.engine = New(deps)
	return f
}

type reqOpts struct {
	key     string
	role    string
	dryRun  bool
	confirm bool
	verbose bool
	input   string
}

func buildRequest(o reqOpts) json.RawMessage {
	if o.key == "" {
		o.key = "test-key-001"
	}
	if o.role == "" {
		o.role = "assistant"
	}
	return json.RawMessage(fmt.Sprintf(`{
		"idempotencyKey": %q,
		"permissionScope": "actions",
		"role": %q,
		"dryRun": %v,
		"confirm": %v,
		"verbose": %v,
		"audit": {"correlationId": "corr-1", "requestedAt": "2026-08-30T12:00:00Z"},
		"input": %s
	}`, o.key, o.role, o.dryRun, o.confirm, o.verbose, o.input))
}

const noteInput = `{"action":"note.create","person":{"name":"Jane"},"text":"call back"}`

func TestRun_DryRunNeverInvokesCollaborators(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	result := f.engine.Run(context.Background(), buildRequest(reqOpts{dryRun: true, confirm: false, input: noteInput}))

	if !result.OK || !result.DryRun {
		t.Fatalf("result = %+v, want ok dry-run", result)
	}
	data, ok := result.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want map", result.Data)
	}
	if data["would"] != "note.create" {
		t.Fatalf("would = %v", data["would"])
	}
	if f.crm.totalCalls() != 0 || f.resolver.resolves+f.resolver.upserts != 0 || f.sms.sends != 0 {
		t.Fatal("preview must not touch any collaborator")
	}
}

func TestRun_ConfirmWithoutDryRunOffStaysPreview(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	result := f.engine.Run(context.Background(), buildRequest(reqOpts{dryRun: true, confirm: true, input: noteInput}))
	if data, ok := result.Data.(map[string]any); !ok || data["would"] != "note.create" {
		t.Fatalf("data = %v, want preview", result.Data)
	}
	if f.crm.totalCalls() != 0 {
		t.Fatal("confirm with dryRun must stay a preview")
	}
}

func TestRun_ExecuteNoteCreate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	result := f.engine.Run(context.Background(), buildRequest(reqOpts{confirm: true, verbose: true, input: noteInput}))

	if !result.OK {
		t.Fatalf("result = %+v", result)
	}
	if f.crm.notes != 1 || f.resolver.upserts != 1 {
		t.Fatalf("notes = %d upserts = %d, want 1 and 1", f.crm.notes, f.resolver.upserts)
	}
	data := result.Data.(map[string]any)
	if data["id"] != "note-1" {
		t.Fatalf("data = %v", data)
	}
}

func TestRun_PersonUpsertCarriesWritableFields(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	input := `{"action":"person.upsert","person":{"email":"jane@example.com","name":"Jane Doe","tags":["lead"],"stage":"Nurture","customFields":{"source":"open house"}}}`
	result := f.engine.Run(context.Background(), buildRequest(reqOpts{confirm: true, verbose: true, input: input}))

	if !result.OK {
		t.Fatalf("result = %+v", result)
	}
	if f.crm.personUpserts != 1 {
		t.Fatalf("upserts = %d, want 1", f.crm.personUpserts)
	}
	got := f.crm.lastUpsert
	if got.Email != "jane@example.com" || got.Name != "Jane Doe" || got.Stage != "Nurture" {
		t.Fatalf("upsert input = %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "lead" {
		t.Fatalf("tags = %v", got.Tags)
	}
	if got.CustomFields["source"] != "open house" {
		t.Fatalf("custom fields = %v", got.CustomFields)
	}
}

func TestRun_PermissionMatrix(t *testing.T) {
	t.Parallel()

	readonlyResult := newFixture(t, nil).engine.Run(context.Background(),
		buildRequest(reqOpts{role: "readonly", confirm: true, input: noteInput}))
	if readonlyResult.OK || readonlyResult.Error == nil {
		t.Fatalf("readonly result = %+v, want failure", readonlyResult)
	}
	if readonlyResult.Error.Code != string(apperrors.CodePermission) {
		t.Fatalf("code = %s, want permission denial", readonlyResult.Error.Code)
	}

	assistantResult := newFixture(t, nil).engine.Run(context.Background(),
		buildRequest(reqOpts{role: "assistant", confirm: true, input: noteInput}))
	if !assistantResult.OK {
		t.Fatalf("assistant result = %+v, want success", assistantResult)
	}
}

func TestRun_TagRemoveOperatorOnly(t *testing.T) {
	t.Parallel()

	input := `{"action":"person.tag.remove","person":{"name":"Jane"},"tag":"hot"}`

	denied := newFixture(t, nil).engine.Run(context.Background(),
		buildRequest(reqOpts{role: "assistant", confirm: true, input: input}))
	if denied.OK || denied.Error.Code != string(apperrors.CodePermission) {
		t.Fatalf("assistant result = %+v, want permission denial", denied)
	}

	f := newFixture(t, nil)
	allowed := f.engine.Run(context.Background(),
		buildRequest(reqOpts{role: "operator", confirm: true, input: input}))
	if !allowed.OK || f.crm.tagRemoves != 1 {
		t.Fatalf("operator result = %+v (removes = %d)", allowed, f.crm.tagRemoves)
	}
}

func TestRun_SafetyBlocksSecretBody(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	input := `{"action":"message.send","channel":"sms","to":"+15551234567","body":"the api_key=abc123 is live"}`
	result := f.engine.Run(context.Background(), buildRequest(reqOpts{confirm: true, input: input}))

	if result.OK || result.Error.Code != string(apperrors.CodeValidation) {
		t.Fatalf("result = %+v, want validation failure", result)
	}
	if f.sms.sends != 0 {
		t.Fatal("blocked message must not be sent")
	}
}

func TestRun_VoicemailRegionPolicy(t *testing.T) {
	t.Parallel()

	input := `{"action":"voicemail.drop","phoneNumbers":["+447911123456"],"audio":{"slyAudioName":"followup"}}`

	blocked := newFixture(t, nil).engine.Run(context.Background(),
		buildRequest(reqOpts{confirm: true, input: input}))
	if blocked.OK || blocked.Error.Code != string(apperrors.CodeValidation) {
		t.Fatalf("result = %+v, want region rejection", blocked)
	}

	f := newFixture(t, func(deps *Deps) {
		deps.Config.Safety = safety.Config{AllowNonUSCA: true}
	})
	allowed := f.engine.Run(context.Background(), buildRequest(reqOpts{confirm: true, input: input}))
	if !allowed.OK || f.voicemail.drops != 1 {
		t.Fatalf("result = %+v (drops = %d), want accepted", allowed, f.voicemail.drops)
	}
}

func TestRun_MessageSendAuditsAndMirrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	input := `{"action":"message.send","channel":"sms","to":"+15551234567","body":"see you at noon","person":{"name":"Jane"}}`
	result := f.engine.Run(context.Background(), buildRequest(reqOpts{confirm: true, verbose: true, input: input}))

	if !result.OK {
		t.Fatalf("result = %+v", result)
	}
	if f.sms.sends != 1 {
		t.Fatalf("sends = %d, want 1", f.sms.sends)
	}
	if len(f.store.logs) != 1 {
		t.Fatalf("message logs = %d, want 1", len(f.store.logs))
	}

	logged := f.store.logs[0]
	if logged.BodyHash != safety.HashContent("see you at noon") {
		t.Fatalf("body hash = %q", logged.BodyHash)
	}
	plaintext, err := encrypt.DecryptText(logged.ContentEncrypted, testSecret)
	if err != nil || plaintext != "see you at noon" {
		t.Fatalf("decrypt = %q, %v", plaintext, err)
	}
	if logged.PersonID != 7 {
		t.Fatalf("person id = %d, want 7", logged.PersonID)
	}
	if f.crm.texts != 1 {
		t.Fatalf("timeline texts = %d, want 1 (logToFub defaults on)", f.crm.texts)
	}
}

func TestRun_MessageSendWithoutMirror(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	input := `{"action":"message.send","channel":"sms","to":"+15551234567","body":"quiet send","logToFub":false}`
	result := f.engine.Run(context.Background(), buildRequest(reqOpts{confirm: true, input: input}))

	if !result.OK {
		t.Fatalf("result = %+v", result)
	}
	if f.crm.texts != 0 {
		t.Fatal("logToFub=false must skip the CRM mirror")
	}
	if len(f.store.logs) != 1 {
		t.Fatal("audit row is written regardless of mirroring")
	}
}

func TestRun_ReplayReturnsStoredEnvelope(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	request := buildRequest(reqOpts{confirm: true, verbose: true, input: noteInput})

	first := f.engine.Run(context.Background(), request)
	second := f.engine.Run(context.Background(), request)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replay differs:\nfirst  %+v\nsecond %+v", first, second)
	}
	if f.crm.notes != 1 {
		t.Fatalf("notes = %d, want exactly 1 side effect", f.crm.notes)
	}
}

func TestRun_ConcurrentDuplicatesConverge(t *testing.T) {
	t.Parallel()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	clock := func() time.Time {
		return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	}
	crm := memory.NewCRM(clock)
	eng := New(Deps{
		Config:   Config{EncryptionSecret: testSecret},
		Store:    store,
		Resolver: person.NewResolver(crm, store, clock),
		CRM:      crm,
		Clock:    clock,
	})

	request := buildRequest(reqOpts{confirm: true, verbose: true, input: noteInput})

	const callers = 8
	results := make([]action.Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = eng.Run(context.Background(), request)
		}(i)
	}
	wg.Wait()

	for i, result := range results {
		if !result.OK {
			t.Fatalf("result %d = %+v, want success", i, result)
		}
		if !reflect.DeepEqual(result, results[0]) {
			t.Fatalf("result %d differs:\n%+v\n%+v", i, result, results[0])
		}
	}

	notes := 0
	for _, event := range crm.Events() {
		if event.Kind == "note" {
			notes++
		}
	}
	if notes == 0 {
		t.Fatal("expected the note side effect to be recorded")
	}
}

func TestRun_FailureIsReplayedWithoutRetry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(deps *Deps) {})
	f.sms.err = apperrors.Provider("carrier unavailable", nil)
	input := `{"action":"message.send","channel":"sms","to":"+15551234567","body":"hello"}`
	request := buildRequest(reqOpts{confirm: true, input: input})

	first := f.engine.Run(context.Background(), request)
	if first.OK || first.Error.Code != string(apperrors.CodeProvider) || !first.Error.Retryable {
		t.Fatalf("first = %+v, want retryable provider failure", first)
	}

	second := f.engine.Run(context.Background(), request)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("stored failure must replay verbatim:\n%+v\n%+v", first, second)
	}
	if f.sms.sends != 1 {
		t.Fatalf("sends = %d, want 1 despite retry", f.sms.sends)
	}
}

func TestRun_ValidationFailureNotPersisted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	raw := json.RawMessage(`{
		"idempotencyKey": "ok-key-123",
		"audit": {"correlationId": "corr-x"},
		"input": {"action": "note.create"}
	}`)
	result := f.engine.Run(context.Background(), raw)

	if result.OK || result.Error.Code != string(apperrors.CodeValidation) {
		t.Fatalf("result = %+v, want validation failure", result)
	}
	if result.CorrelationID != "corr-x" {
		t.Fatalf("correlation id = %q, want best-effort echo", result.CorrelationID)
	}
	if len(f.store.idem) != 0 {
		t.Fatal("rejected request must not occupy an idempotency key")
	}
}

func TestRun_RedactionByDepth(t *testing.T) {
	t.Parallel()

	input := `{"action":"person.find","query":"jane"}`

	masked := newFixture(t, nil).engine.Run(context.Background(),
		buildRequest(reqOpts{confirm: true, input: input}))
	if !masked.Redacted {
		t.Fatal("verbose=false result must be marked redacted")
	}
	people := masked.Data.([]any)
	entry := people[0].(map[string]any)
	if entry["emails"] != redact.Marker {
		t.Fatalf("emails = %v, want masked", entry["emails"])
	}
	if entry["name"] != "Jane" {
		t.Fatalf("name = %v, want untouched", entry["name"])
	}

	open := newFixture(t, nil).engine.Run(context.Background(),
		buildRequest(reqOpts{key: "other-key-1", confirm: true, verbose: true, input: input}))
	if open.Redacted {
		t.Fatal("verbose=true result must not be redacted")
	}
	openEntry := open.Data.([]any)[0].(map[string]any)
	if _, ok := openEntry["emails"].([]any); !ok {
		t.Fatalf("emails = %v, want raw list", openEntry["emails"])
	}
}

func TestRun_SummaryGenerate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	input := `{"action":"summary.generate","topic":"pipeline","data":{"b":1,"a":2}}`
	result := f.engine.Run(context.Background(), buildRequest(reqOpts{confirm: true, verbose: true, input: input}))

	data := result.Data.(map[string]any)
	if data["summary"] != "Summary: pipeline | keys: a, b" {
		t.Fatalf("summary = %v", data["summary"])
	}
}

func TestRun_UnconfiguredChannel(t *testing.T) {
	t.Parallel()

	// The "+1" region rule applies to every channel, so an email destination
	// needs the override before dispatch is even attempted.
	f := newFixture(t, func(deps *Deps) {
		deps.Email = nil
		deps.Config.Safety = safety.Config{AllowNonUSCA: true}
	})
	input := `{"action":"message.send","channel":"email","to":"jane@example.com","body":"hi"}`
	result := f.engine.Run(context.Background(), buildRequest(reqOpts{confirm: true, input: input}))

	if result.OK || result.Error.Code != string(apperrors.CodeValidation) {
		t.Fatalf("result = %+v, want unconfigured-channel validation failure", result)
	}
	if !strings.Contains(result.Error.Message, "email") {
		t.Fatalf("message = %q", result.Error.Message)
	}
}
