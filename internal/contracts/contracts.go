// Package contracts tracks the hash of each profile's exposed surface and
// broadcasts list_changed notifications when it changes, with an optional
// durable event log + cross-node fanout for HA deployments.
package contracts

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kagenti/mcp-gateway/internal/transform"
	"github.com/mark3labs/mcp-go/mcp"
)

// Kind identifies which part of the exposed surface a contract covers.
type Kind int

const (
	Tools Kind = iota
	Resources
	Prompts
)

// ListChangedMethod returns the MCP notification method for this kind.
func (k Kind) ListChangedMethod() string {
	switch k {
	case Tools:
		return "notifications/tools/list_changed"
	case Resources:
		return "notifications/resources/list_changed"
	case Prompts:
		return "notifications/prompts/list_changed"
	default:
		return ""
	}
}

func (k Kind) String() string {
	switch k {
	case Tools:
		return "tools"
	case Resources:
		return "resources"
	case Prompts:
		return "prompts"
	default:
		return "unknown"
	}
}

// Change is produced when an update to a profile's contract hash differs
// from the previously observed value.
type Change struct {
	ProfileID    string
	Kind         Kind
	ContractHash string
}

// Event is a Change durably persisted with a monotonic event id, tagged
// with the node that produced it, suitable for cross-node fanout and
// after-reconnect replay.
type Event struct {
	EventID      uint64
	ProfileID    string
	Kind         Kind
	ContractHash string
	OriginNodeID string
}

type surfaceHashes struct {
	tools     string
	resources string
	prompts   string
}

const notifierBufferSize = 64
const globalBufferSize = 256

// FanoutStore durably persists contract events and serves after-reconnect
// replay, backing a Tracker's optional HA mode across more than one
// gateway node. See fanout.go for the Postgres-backed implementation.
type FanoutStore interface {
	// Persist durably records event, assigns it a globally monotonic
	// event id, and publishes it to other nodes, returning the assigned
	// id.
	Persist(ctx context.Context, event Event) (uint64, error)
	// Replay returns events for profileID with EventID > afterEventID,
	// oldest first, capped at limit.
	Replay(ctx context.Context, profileID string, afterEventID uint64, limit int) ([]Event, error)
}

// Tracker holds per-profile contract hashes and serves best-effort
// broadcast subscriptions. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	hashes    map[string]*surfaceHashes
	notifiers map[string]chan Event
	global    chan Event
	nextEvent uint64

	store  FanoutStore
	nodeID string
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		hashes:    map[string]*surfaceHashes{},
		notifiers: map[string]chan Event{},
		global:    make(chan Event, globalBufferSize),
		nextEvent: 1,
	}
}

// Subscribe returns a channel receiving contract events for one profile.
// The channel is bounded and best-effort: a slow receiver drops events
// rather than blocking the notifier.
func (t *Tracker) Subscribe(profileID string) <-chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.notifiers[profileID]
	if !ok {
		ch = make(chan Event, notifierBufferSize)
		t.notifiers[profileID] = ch
	}
	return ch
}

// SubscribeAll returns the global channel receiving events across every
// profile, used by internal watchers such as cache invalidation.
func (t *Tracker) SubscribeAll() <-chan Event {
	return t.global
}

// NextLocalEventID reserves the next monotonic event id for this node.
func (t *Tracker) NextLocalEventID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextEvent
	t.nextEvent++
	return id
}

// UpdateToolsContract recomputes the tools contract hash for profileID and
// returns a Change if it differs from the previously observed hash. First
// observation of a profile is recorded silently.
func (t *Tracker) UpdateToolsContract(profileID string, tools []mcp.Tool) *Change {
	return t.updateContractHash(profileID, Tools, toolsContractHash(tools), false)
}

// UpdateResourcesContract is the Resources analogue of UpdateToolsContract.
func (t *Tracker) UpdateResourcesContract(profileID string, resources []mcp.Resource) *Change {
	return t.updateContractHash(profileID, Resources, resourcesContractHash(resources), false)
}

// UpdatePromptsContract is the Prompts analogue of UpdateToolsContract.
func (t *Tracker) UpdatePromptsContract(profileID string, prompts []mcp.Prompt) *Change {
	return t.updateContractHash(profileID, Prompts, promptsContractHash(prompts), false)
}

// ApplyRemoteEvent idempotently applies a contract event that originated on
// another cluster node (HA fanout), broadcasting it locally only if it
// actually changes the locally observed hash.
func (t *Tracker) ApplyRemoteEvent(event Event) {
	if change := t.updateContractHash(event.ProfileID, event.Kind, event.ContractHash, true); change != nil {
		t.BroadcastEvent(event)
	}
}

// EnableFanout wires a durable FanoutStore into the tracker so locally
// observed changes made through PublishLocalChange are persisted and
// published for other nodes, in addition to the existing in-process
// broadcast. nodeID tags events this node produces, so a FanoutListener
// fed by the same store can recognize and skip its own node's echo.
// Without a call to EnableFanout, a Tracker behaves exactly as before:
// single-node, in-memory event ids, no durability.
func (t *Tracker) EnableFanout(store FanoutStore, nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store = store
	t.nodeID = nodeID
}

// PublishLocalChange turns a Change this node just observed into an Event:
// persisted and published through the configured FanoutStore if fanout is
// enabled, or just assigned the next in-memory id otherwise. Either way the
// event is always broadcast to this node's own local subscribers before
// returning, so callers (e.g. cmd/mcp-gateway's sync) get the single entry
// point for "a contract changed, tell everyone."
func (t *Tracker) PublishLocalChange(ctx context.Context, change *Change) (Event, error) {
	t.mu.Lock()
	store := t.store
	nodeID := t.nodeID
	t.mu.Unlock()

	event := Event{
		ProfileID:    change.ProfileID,
		Kind:         change.Kind,
		ContractHash: change.ContractHash,
		OriginNodeID: nodeID,
	}
	if store != nil {
		id, err := store.Persist(ctx, event)
		if err != nil {
			return Event{}, fmt.Errorf("contracts: publish local change for profile %q: %w", change.ProfileID, err)
		}
		event.EventID = id
	} else {
		event.EventID = t.NextLocalEventID()
	}

	t.BroadcastEvent(event)
	return event, nil
}

// ReplayProfile hydrates a profile's locally observed hash from durable
// history after reconnecting (e.g. at process start, before the first
// config sync runs), applying each replayed event through ApplyRemoteEvent
// so the usual idempotent dedup logic governs. A no-op when fanout isn't
// enabled.
func (t *Tracker) ReplayProfile(ctx context.Context, profileID string, afterEventID uint64, limit int) error {
	t.mu.Lock()
	store := t.store
	t.mu.Unlock()
	if store == nil {
		return nil
	}
	events, err := store.Replay(ctx, profileID, afterEventID, limit)
	if err != nil {
		return fmt.Errorf("contracts: replay profile %q: %w", profileID, err)
	}
	for _, event := range events {
		t.ApplyRemoteEvent(event)
	}
	return nil
}

func (t *Tracker) updateContractHash(profileID string, kind Kind, newHash string, notifyOnFirst bool) *Change {
	t.mu.Lock()
	entry, ok := t.hashes[profileID]
	if !ok {
		entry = &surfaceHashes{}
		t.hashes[profileID] = entry
	}

	var prev string
	var hadPrev bool
	switch kind {
	case Tools:
		prev, hadPrev = entry.tools, entry.tools != ""
	case Resources:
		prev, hadPrev = entry.resources, entry.resources != ""
	case Prompts:
		prev, hadPrev = entry.prompts, entry.prompts != ""
	}

	if hadPrev && prev == newHash {
		t.mu.Unlock()
		return nil
	}

	switch kind {
	case Tools:
		entry.tools = newHash
	case Resources:
		entry.resources = newHash
	case Prompts:
		entry.prompts = newHash
	}
	t.mu.Unlock()

	if !hadPrev && !notifyOnFirst {
		return nil
	}

	return &Change{ProfileID: profileID, Kind: kind, ContractHash: newHash}
}

// BroadcastEvent fans an event out to the global channel and the
// profile-scoped channel, dropping it (never blocking) if a receiver is
// not keeping up.
func (t *Tracker) BroadcastEvent(event Event) {
	select {
	case t.global <- event:
	default:
	}

	t.mu.Lock()
	ch, ok := t.notifiers[event.ProfileID]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- event:
	default:
	}
}

// ListChangedNotificationJSON renders the JSON-RPC notification body for a
// contract event; eventId and contractHash are embedded in params purely
// for operator debugging and client-side coalescing, not MCP semantics.
func ListChangedNotificationJSON(event Event) ([]byte, error) {
	v := map[string]any{
		"jsonrpc": "2.0",
		"method":  event.Kind.ListChangedMethod(),
		"params": map[string]any{
			"eventId":      event.EventID,
			"contractHash": event.ContractHash,
		},
	}
	return json.Marshal(v)
}

func toolsContractHash(tools []mcp.Tool) string {
	type entry struct {
		name string
		obj  map[string]any
	}
	entries := make([]entry, 0, len(tools))
	for _, t := range tools {
		var inputSchema any = map[string]any{}
		if b, err := json.Marshal(t.InputSchema); err == nil {
			_ = json.Unmarshal(b, &inputSchema)
		}
		var outputSchema any
		if t.OutputSchema != nil {
			if b, err := json.Marshal(t.OutputSchema); err == nil {
				_ = json.Unmarshal(b, &outputSchema)
			}
		}
		var annotations any
		if b, err := json.Marshal(t.Annotations); err == nil {
			_ = json.Unmarshal(b, &annotations)
		}
		entries = append(entries, entry{
			name: t.Name,
			obj: map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"inputSchema": inputSchema,
				"outputSchema": outputSchema,
				"annotations": annotations,
			},
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	arr := make([]any, len(entries))
	for i, e := range entries {
		arr[i] = e.obj
	}
	return hashCanonical(arr)
}

func resourcesContractHash(resources []mcp.Resource) string {
	type entry struct {
		uri string
		obj any
	}
	entries := make([]entry, 0, len(resources))
	for _, r := range resources {
		var v any
		if b, err := json.Marshal(r); err == nil {
			_ = json.Unmarshal(b, &v)
		}
		entries = append(entries, entry{uri: r.URI, obj: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].uri < entries[j].uri })

	arr := make([]any, len(entries))
	for i, e := range entries {
		arr[i] = e.obj
	}
	return hashCanonical(arr)
}

func promptsContractHash(prompts []mcp.Prompt) string {
	type entry struct {
		name string
		obj  any
	}
	entries := make([]entry, 0, len(prompts))
	for _, p := range prompts {
		var v any
		if b, err := json.Marshal(p); err == nil {
			_ = json.Unmarshal(b, &v)
		}
		entries = append(entries, entry{name: p.Name, obj: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	arr := make([]any, len(entries))
	for i, e := range entries {
		arr[i] = e.obj
	}
	return hashCanonical(arr)
}

func hashCanonical(v any) string {
	b, err := transform.MarshalCanonical(v)
	if err != nil {
		// Marshaling a decoded JSON tree cannot fail in practice; treat as
		// a programmer error rather than plumbing an error return through
		// every caller.
		panic(fmt.Sprintf("contracts: marshal canonical surface: %v", err))
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}
