package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvOne(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return Message{}
	}
}

func TestMemoryBrokerPublishSubscribe(t *testing.T) {
	b := NewMemoryBroker(16)
	defer b.Close()

	ch, cancel, err := b.Subscribe(context.Background(), "topic-a")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(context.Background(), "topic-a", []byte("hello")))

	msg := recvOne(t, ch)
	assert.Equal(t, "topic-a", msg.Topic)
	assert.Equal(t, []byte("hello"), msg.Payload)
}

func TestMemoryBrokerTopicIsolation(t *testing.T) {
	b := NewMemoryBroker(16)
	defer b.Close()

	chA, cancelA, err := b.Subscribe(context.Background(), "topic-a")
	require.NoError(t, err)
	defer cancelA()

	chB, cancelB, err := b.Subscribe(context.Background(), "topic-b")
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, b.Publish(context.Background(), "topic-a", []byte("only-a")))

	msg := recvOne(t, chA)
	assert.Equal(t, "topic-a", msg.Topic)

	select {
	case unexpected := <-chB:
		t.Fatalf("topic-b subscriber should not receive %q", unexpected.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBrokerFIFOPerTopic(t *testing.T) {
	b := NewMemoryBroker(128)
	defer b.Close()

	ch, cancel, err := b.Subscribe(context.Background(), "topic-a")
	require.NoError(t, err)
	defer cancel()

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, b.Publish(context.Background(), "topic-a", []byte(fmt.Sprintf("%d", i))))
	}

	for i := 0; i < n; i++ {
		msg := recvOne(t, ch)
		assert.Equal(t, fmt.Sprintf("%d", i), string(msg.Payload))
	}
}

func TestMemoryBrokerFanOutToAllSubscribers(t *testing.T) {
	b := NewMemoryBroker(16)
	defer b.Close()

	ch1, cancel1, err := b.Subscribe(context.Background(), "topic-a")
	require.NoError(t, err)
	defer cancel1()

	ch2, cancel2, err := b.Subscribe(context.Background(), "topic-a")
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, b.Publish(context.Background(), "topic-a", []byte("fanout")))

	assert.Equal(t, "fanout", string(recvOne(t, ch1).Payload))
	assert.Equal(t, "fanout", string(recvOne(t, ch2).Payload))
}

func TestMemoryBrokerCancelStopsDelivery(t *testing.T) {
	b := NewMemoryBroker(16)
	defer b.Close()

	ch, cancel, err := b.Subscribe(context.Background(), "topic-a")
	require.NoError(t, err)

	cancel()
	cancel() // 幂等

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")

	require.NoError(t, b.Publish(context.Background(), "topic-a", []byte("late")))
}

func TestMemoryBrokerMultiTopicSubscribe(t *testing.T) {
	b := NewMemoryBroker(16)
	defer b.Close()

	ch, cancel, err := b.Subscribe(context.Background(), "topic-a", "topic-b")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(context.Background(), "topic-a", []byte("a")))
	require.NoError(t, b.Publish(context.Background(), "topic-b", []byte("b")))

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		msg := recvOne(t, ch)
		got[msg.Topic] = string(msg.Payload)
	}
	assert.Equal(t, map[string]string{"topic-a": "a", "topic-b": "b"}, got)
}

func TestMemoryBrokerPublishAfterClose(t *testing.T) {
	b := NewMemoryBroker(16)

	ch, _, err := b.Subscribe(context.Background(), "topic-a")
	require.NoError(t, err)

	require.NoError(t, b.Close())

	_, ok := <-ch
	assert.False(t, ok)

	err = b.Publish(context.Background(), "topic-a", []byte("x"))
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestMemoryBrokerPublishRacesSubscribeCancel(t *testing.T) {
	b := NewMemoryBroker(4)
	defer b.Close()

	// 连接抖动场景：取消订阅与发布并发执行。
	// 通道关闭与发送必须互斥，任何交错都不允许 panic。
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			_ = b.Publish(context.Background(), "topic-a", []byte("m"))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			ch, cancel, err := b.Subscribe(context.Background(), "topic-a")
			if err != nil {
				return
			}
			// 留给发布方一个命中窗口
			select {
			case <-ch:
			default:
			}
			cancel()
		}
		close(done)
	}()

	wg.Wait()
}

func TestMemoryBrokerCancelAfterClose(t *testing.T) {
	b := NewMemoryBroker(16)

	_, cancel, err := b.Subscribe(context.Background(), "topic-a")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	cancel() // Close 已关闭通道，cancel 不得重复关闭
}

func TestMemoryBrokerConcurrentPublish(t *testing.T) {
	b := NewMemoryBroker(4096)
	defer b.Close()

	ch, cancel, err := b.Subscribe(context.Background(), "topic-a")
	require.NoError(t, err)
	defer cancel()

	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = b.Publish(context.Background(), "topic-a", []byte("m"))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < workers*perWorker; i++ {
		recvOne(t, ch)
	}
}
