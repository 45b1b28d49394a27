package mqtt

import (
	"io"
	"net/url"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Handler is the callback when a message is received.
type Handler func(topic string, payload []byte)

// Queue wraps MQTT client with topics relative to a prefix.
type Queue struct {
	Client      paho.Client
	TopicPrefix string

	subsLock sync.RWMutex
	subs     map[string]*Subscription
}

// Subscription is a subscribed topic.
type Subscription struct {
	queue   *Queue
	topic   string
	handler Handler
}

// ClientOptionsFromURL creates ClientOptions from URL.
// The URL path is the topic prefix, e.g. mqtt://host:1883/boardlink/
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	server := u.Scheme
	if server == "" || server == "mqtt" {
		server = "tcp"
	}
	server += "://" + u.Host

	opts := paho.NewClientOptions()
	opts.AddBroker(server).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	if clientID := u.Query().Get("client-id"); clientID != "" {
		opts.SetClientID(clientID)
	}
	return opts, strings.TrimPrefix(u.Path, "/"), nil
}

// NewQueue creates Queue.
func NewQueue(options *paho.ClientOptions, topicPrefix string) *Queue {
	q := &Queue{TopicPrefix: topicPrefix, subs: make(map[string]*Subscription)}
	options.SetOnConnectHandler(q.onConnect)
	options.SetConnectionLostHandler(q.onConnectionLost)
	q.Client = paho.NewClient(options)
	return q
}

// Connect connects the client and waits for the result.
func (q *Queue) Connect() error {
	token := q.Client.Connect()
	token.Wait()
	return token.Error()
}

// Close implements io.Closer.
func (q *Queue) Close() error {
	q.Client.Disconnect(250)
	return nil
}

// Publish implements Broker.
func (q *Queue) Publish(topic string, payload []byte) error {
	token := q.Client.Publish(q.TopicPrefix+topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

// Subscribe implements Broker. One handler per topic.
func (q *Queue) Subscribe(topic string, handler Handler) (io.Closer, error) {
	sub := &Subscription{queue: q, topic: topic, handler: handler}
	q.subsLock.Lock()
	q.subs[topic] = sub
	q.subsLock.Unlock()
	glog.V(2).Infof("SUB %q", q.TopicPrefix+topic)
	token := q.Client.Subscribe(q.TopicPrefix+topic, 0, q.dispatch)
	token.Wait()
	if err := token.Error(); err != nil {
		q.subsLock.Lock()
		delete(q.subs, topic)
		q.subsLock.Unlock()
		return nil, err
	}
	return sub, nil
}

func (q *Queue) onConnect(paho.Client) {
	glog.Info("connected")
	filters := make(map[string]byte)
	q.subsLock.RLock()
	for topic := range q.subs {
		filters[q.TopicPrefix+topic] = 0
	}
	q.subsLock.RUnlock()
	if len(filters) > 0 {
		q.Client.SubscribeMultiple(filters, q.dispatch)
	}
}

func (q *Queue) onConnectionLost(c paho.Client, err error) {
	glog.Warningf("connection lost: %v", err)
}

func (q *Queue) dispatch(c paho.Client, msg paho.Message) {
	topic := msg.Topic()
	if !strings.HasPrefix(topic, q.TopicPrefix) {
		return
	}
	topic = topic[len(q.TopicPrefix):]
	glog.V(2).Infof("RCV %q", topic)
	q.subsLock.RLock()
	sub := q.subs[topic]
	q.subsLock.RUnlock()
	if sub != nil {
		sub.handler(topic, msg.Payload())
	}
}

// Close unsubscribes.
func (s *Subscription) Close() error {
	s.queue.subsLock.Lock()
	if s.queue.subs[s.topic] != s {
		s.queue.subsLock.Unlock()
		return nil
	}
	delete(s.queue.subs, s.topic)
	s.queue.subsLock.Unlock()
	glog.V(2).Infof("UNSUB %q", s.topic)
	token := s.queue.Client.Unsubscribe(s.queue.TopicPrefix + s.topic)
	token.Wait()
	return token.Error()
}
