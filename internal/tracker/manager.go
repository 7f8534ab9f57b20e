package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"tradeledger/internal/models"
	"tradeledger/internal/store"
)

const (
	ActionAdd    = "add"
	ActionRemove = "remove"

	// DefaultQueue carries AddressEvents between the api and the workers.
	DefaultQueue = "tracked_address_events"
)

var (
	ErrUnknownChain = errors.New("tracker: unknown chain")
	ErrInvalid      = errors.New("tracker: address and agent_id are required")
)

// AddressEvent is the message emitted by the agent configuration service.
type AddressEvent struct {
	Action  string `json:"action"`
	Chain   string `json:"chain"`
	Address string `json:"address"`
	AgentID string `json:"agent_id"`
}

// EventPublisher delivers AddressEvents to other processes.
type EventPublisher interface {
	Publish(queue string, message interface{}) error
}

// Normalizer canonicalizes addresses of one chain.
type Normalizer func(string) string

// Manager applies add/remove requests to the durable store and the registry.
type Manager struct {
	store       store.Store
	registry    *Registry
	normalizers map[string]Normalizer
	publisher   EventPublisher
	queue       string
	log         *log.Entry
}

func NewManager(s store.Store, registry *Registry, normalizers map[string]Normalizer) *Manager {
	return &Manager{
		store:       s,
		registry:    registry,
		normalizers: normalizers,
		log:         log.WithField("component", "tracker"),
	}
}

// WithPublisher makes Add/RemoveTrackedAddress announce successful edits on
// queue. Edits applied from HandleMessage are never re-published.
func (m *Manager) WithPublisher(pub EventPublisher, queue string) *Manager {
	if queue == "" {
		queue = DefaultQueue
	}
	m.publisher = pub
	m.queue = queue
	return m
}

func (m *Manager) Registry() *Registry { return m.registry }

// Load fills the registry from the store. Rows for chains that are not
// configured are ignored.
func (m *Manager) Load(ctx context.Context) error {
	rows, err := m.store.ListTrackedAddresses(ctx)
	if err != nil {
		return fmt.Errorf("list tracked addresses: %w", err)
	}
	loaded := 0
	for _, row := range rows {
		norm, ok := m.normalizers[row.Chain]
		if !ok {
			m.log.Warnf("> tracked address %s on unconfigured chain %s ignored", row.Address, row.Chain)
			continue
		}
		m.registry.Add(row.Chain, norm(row.Address), row.AgentID)
		loaded++
	}
	m.log.Infof("> loaded %d tracked addresses", loaded)
	return nil
}

// AddTrackedAddress saves the mapping, tracks it locally and announces it.
func (m *Manager) AddTrackedAddress(ctx context.Context, chain, address, agentID string) (*models.TrackedAddress, error) {
	row, err := m.add(ctx, chain, address, agentID)
	if err != nil {
		return nil, err
	}
	m.announce(AddressEvent{Action: ActionAdd, Chain: row.Chain, Address: row.Address, AgentID: row.AgentID})
	return row, nil
}

// RemoveTrackedAddress deletes the mapping, untracks it locally and announces it.
func (m *Manager) RemoveTrackedAddress(ctx context.Context, chain, address string) (bool, error) {
	removed, err := m.remove(ctx, chain, address)
	if err != nil {
		return false, err
	}
	if removed {
		m.announce(AddressEvent{Action: ActionRemove, Chain: chain, Address: m.normalizers[chain](address)})
	}
	return removed, nil
}

// announce logs publish failures. The store already holds the edit.
func (m *Manager) announce(ev AddressEvent) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(m.queue, ev); err != nil {
		m.log.WithFields(log.Fields{"chain": ev.Chain, "address": ev.Address}).Errorf("> publish %s event: %v", ev.Action, err)
	}
}

func (m *Manager) add(ctx context.Context, chain, address, agentID string) (*models.TrackedAddress, error) {
	norm, ok := m.normalizers[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	address = norm(address)
	agentID = strings.TrimSpace(agentID)
	if address == "" || agentID == "" {
		return nil, ErrInvalid
	}
	row := &models.TrackedAddress{Chain: chain, Address: address, AgentID: agentID}
	if err := m.store.UpsertTrackedAddress(ctx, row); err != nil {
		return nil, fmt.Errorf("save tracked address: %w", err)
	}
	m.registry.Add(chain, address, agentID)
	m.log.WithFields(log.Fields{"chain": chain, "address": address, "agent": agentID}).Info("> tracking address")
	return row, nil
}

func (m *Manager) remove(ctx context.Context, chain, address string) (bool, error) {
	norm, ok := m.normalizers[chain]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	address = norm(address)
	removed, err := m.store.DeleteTrackedAddress(ctx, chain, address)
	if err != nil {
		return false, fmt.Errorf("delete tracked address: %w", err)
	}
	m.registry.Remove(chain, address)
	m.log.WithFields(log.Fields{"chain": chain, "address": address}).Info("> stopped tracking address")
	return removed, nil
}

// HandleMessage consumes one AddressEvent body. Malformed or unknown-chain
// messages are acked and dropped.
func (m *Manager) HandleMessage(ctx context.Context, body []byte) error {
	var ev AddressEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		m.log.Errorf("> drop malformed address event: %v", err)
		return nil
	}
	var err error
	switch ev.Action {
	case ActionAdd:
		_, err = m.add(ctx, ev.Chain, ev.Address, ev.AgentID)
	case ActionRemove:
		_, err = m.remove(ctx, ev.Chain, ev.Address)
	default:
		m.log.Warnf("> drop address event with unknown action %q", ev.Action)
		return nil
	}
	if errors.Is(err, ErrUnknownChain) || errors.Is(err, ErrInvalid) {
		m.log.Warnf("> drop address event: %v", err)
		return nil
	}
	return err
}
