// Package capture subscribes to the mesh's MQTT uplink and turns the raw bus
// traffic into persisted packets, node observations and traceroutes.
package capture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/meshradar/meshradar/pkg/config"
	"github.com/meshradar/meshradar/pkg/db"
	"github.com/meshradar/meshradar/pkg/keyring"
	"github.com/meshradar/meshradar/pkg/metrics"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectGraceMS = 250
	subscribeQoS      = 0
)

// Service is the capture daemon: one MQTT subscription fanning out to a fixed
// pool of pipeline workers. It implements lifecycle.Service.
type Service struct {
	cfg     *config.CaptureConfig
	keys    *keyring.Keyring
	store   db.Service
	sink    PacketSink
	tracker *metrics.Tracker
	window  *dedupWindow

	client mqtt.Client
	msgs   chan rawMessage
	done   chan struct{}
	wg     sync.WaitGroup

	connectLimiter   *rate.Limiter
	decodeLogLimiter *rate.Limiter
	dropLogLimiter   *rate.Limiter
}

// NewService wires a capture pipeline. The sink may be nil when no live
// consumers exist; a nil tracker gets a private one.
func NewService(cfg *config.CaptureConfig, keys *keyring.Keyring, store db.Service, sink PacketSink, tracker *metrics.Tracker) *Service {
	if tracker == nil {
		tracker = metrics.NewTracker()
	}

	return &Service{
		cfg:              cfg,
		keys:             keys,
		store:            store,
		sink:             sink,
		tracker:          tracker,
		window:           newDedupWindow(cfg.DedupEntries, time.Duration(cfg.DedupAge)),
		msgs:             make(chan rawMessage, cfg.QueueSize),
		done:             make(chan struct{}),
		connectLimiter:   rate.NewLimiter(rate.Every(5*time.Second), 1),
		decodeLogLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
		dropLogLimiter:   rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Start connects to the broker, subscribes and spawns the worker pool. It
// blocks until ctx is canceled, matching the lifecycle contract.
func (s *Service) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("Broker connection lost: %v", err)
		})

	s.client = mqtt.NewClient(opts)

	if err := s.connect(ctx); err != nil {
		return err
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	if retention := time.Duration(s.cfg.Retention); retention > 0 {
		s.wg.Add(1)
		go s.retentionLoop(retention)
	}

	log.Printf("Capture started: broker %s, topic %s/#, %d workers",
		s.cfg.Broker, s.cfg.TopicPrefix, s.cfg.Workers)

	<-ctx.Done()

	return nil
}

// Stop unsubscribes, drains the workers and disconnects. In-flight commits
// finish; queued messages not picked up before the grace period are dropped.
func (s *Service) Stop(ctx context.Context) error {
	if s.client != nil && s.client.IsConnected() {
		topic := s.cfg.TopicPrefix + "/#"
		if token := s.client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
			log.Printf("Unsubscribe failed: %v", token.Error())
		}

		s.client.Disconnect(disconnectGraceMS)
	}

	close(s.done)

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Println("Capture stopped")
		return nil
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}

// connect retries the initial broker connection until it succeeds or ctx
// ends. Auto-reconnect handles every later outage.
func (s *Service) connect(ctx context.Context) error {
	for {
		if err := s.connectLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectFailed, err)
		}

		token := s.client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}

		log.Printf("Broker connection failed, retrying: %v", token.Error())
	}
}

// onConnect runs on every (re)connect; the subscription does not survive a
// session drop, so it is re-established here rather than in Start.
func (s *Service) onConnect(client mqtt.Client) {
	topic := s.cfg.TopicPrefix + "/#"

	token := client.Subscribe(topic, subscribeQoS, s.onMessage)
	if token.Wait() && token.Error() != nil {
		log.Printf("%v: topic %s: %v", ErrSubscribeFailed, topic, token.Error())
		return
	}

	log.Printf("Subscribed to %s", topic)
}

// onMessage runs on paho's router goroutine and must not block: when the
// queue is saturated the message is dropped, favoring broker liveness over
// completeness.
func (s *Service) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	raw := rawMessage{
		topic:      msg.Topic(),
		payload:    payload,
		receivedAt: time.Now().UTC(),
	}

	select {
	case s.msgs <- raw:
	default:
		s.tracker.ObserveDrop()

		if s.dropLogLimiter.Allow() {
			log.Printf("Ingest queue full, dropping message from %s", msg.Topic())
		}
	}
}

func (s *Service) worker() {
	defer s.wg.Done()

	// Commits from in-flight messages run against the background context so
	// shutdown does not abort a half-applied transaction.
	ctx := context.Background()

	for {
		select {
		case <-s.done:
			return
		case raw := <-s.msgs:
			s.process(ctx, raw)
		}
	}
}

func (s *Service) retentionLoop(retention time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.store.CleanOldData(context.Background(), retention); err != nil {
				log.Printf("Retention sweep failed: %v", err)
			}
		}
	}
}
