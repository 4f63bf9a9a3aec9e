package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cv-core-go/internal/config"
	"cv-core-go/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageQueue 消息队列接口
type MessageQueue interface {
	// 发布消息
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error

	// 发布JSON格式消息
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error

	// 确保交换机存在
	EnsureExchange(exchangeName, exchangeType string, durable bool) error

	// 确保队列存在
	EnsureQueue(queueName string, durable bool) error

	// 绑定队列到交换机
	BindQueue(queueName, exchangeName, routingKey string) error

	// 关闭连接
	Close() error
}

var _ MessageQueue = (*RabbitMQ)(nil)

// RabbitMQ 提供消息队列功能
type RabbitMQ struct {
	conn         *amqp.Connection
	channelPool  sync.Pool
	exchangeMap  map[string]bool // 已声明的exchange
	queueMap     map[string]bool // 已声明的queue
	bindingMap   map[string]bool // 已创建的binding (key格式: "exchange:queue:routingKey")
	publishMutex sync.Mutex
	cfg          *config.RabbitMQConfig
}

// NewRabbitMQ 创建RabbitMQ客户端
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器 (%s): %w", cfg.URL, err)
	}

	mq := &RabbitMQ{
		conn:        conn,
		exchangeMap: make(map[string]bool),
		queueMap:    make(map[string]bool),
		bindingMap:  make(map[string]bool),
		cfg:         cfg,
	}

	mq.channelPool = sync.Pool{
		New: func() interface{} {
			ch, errPool := conn.Channel()
			if errPool != nil {
				logger.Error().Err(errPool).Msg("创建RabbitMQ通道失败")
				return nil
			}
			return ch
		},
	}

	// 测试连接和通道
	testCh := mq.getChannel()
	if testCh == nil {
		conn.Close()
		return nil, fmt.Errorf("无法创建RabbitMQ通道")
	}
	mq.putChannel(testCh)

	logger.Info().Str("url", cfg.URL).Msg("成功连接到RabbitMQ服务器")
	return mq, nil
}

// SetupMatchEventsTopology 声明匹配事件的交换机、队列及绑定
// 启动时调用一次，保证发布端和消费端看到一致的拓扑。
func (r *RabbitMQ) SetupMatchEventsTopology() error {
	if err := r.EnsureExchange(r.cfg.MatchEventsExchange, "direct", true); err != nil {
		return err
	}
	if err := r.EnsureQueue(r.cfg.ScoreQueue, true); err != nil {
		return err
	}
	return r.BindQueue(r.cfg.ScoreQueue, r.cfg.MatchEventsExchange, r.cfg.MatchNeededRoutingKey)
}

// PublishMatchNeeded 发布匹配计算事件
func (r *RabbitMQ) PublishMatchNeeded(ctx context.Context, msg *MatchNeededMessage) error {
	if msg.RequestedAt.IsZero() {
		msg.RequestedAt = time.Now()
	}
	return r.PublishJSON(ctx, r.cfg.MatchEventsExchange, r.cfg.MatchNeededRoutingKey, msg, true)
}

// 获取可用通道
func (r *RabbitMQ) getChannel() *amqp.Channel {
	ch := r.channelPool.Get()
	if ch == nil {
		newCh, err := r.conn.Channel()
		if err != nil {
			logger.Error().Err(err).Msg("创建新RabbitMQ通道失败")
			return nil
		}
		return newCh
	}
	return ch.(*amqp.Channel)
}

// 归还通道到池
func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil {
		r.channelPool.Put(ch)
	}
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// EnsureExchange 确保exchange存在
func (r *RabbitMQ) EnsureExchange(exchangeName, exchangeType string, durable bool) error {
	if exchangeName == "" {
		return fmt.Errorf("exchange名称不能为空")
	}
	if exchangeName == "amq.default" || exchangeName == "default" {
		return fmt.Errorf("不能声明默认交换机 '%s'", exchangeName)
	}

	if _, exists := r.exchangeMap[exchangeName]; exists {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	err := ch.ExchangeDeclare(
		exchangeName, // exchange名称
		exchangeType, // exchange类型
		durable,      // 持久化
		false,        // 自动删除
		false,        // 内部专用
		false,        // 非阻塞
		nil,          // 参数
	)
	if err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}

	r.exchangeMap[exchangeName] = true
	logger.Info().Str("exchange", exchangeName).Str("type", exchangeType).Msg("已确保exchange存在")
	return nil
}

// EnsureQueue 确保队列存在
func (r *RabbitMQ) EnsureQueue(queueName string, durable bool) error {
	if _, exists := r.queueMap[queueName]; exists {
		// 已在本地缓存中标记，用被动声明验证其仍然存在且参数匹配
		ch := r.getChannel()
		if ch == nil {
			return fmt.Errorf("无法获取RabbitMQ通道")
		}
		defer r.putChannel(ch)

		_, err := ch.QueueDeclarePassive(
			queueName,
			durable,
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			// 被动声明失败，从缓存移除以便下次重新声明
			delete(r.queueMap, queueName)
			return fmt.Errorf("被动声明队列 '%s' 失败 (可能不存在或参数不匹配): %w", queueName, err)
		}
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	_, err := ch.QueueDeclare(
		queueName, // 队列名称
		durable,   // 持久化
		false,     // 自动删除
		false,     // 独占
		false,     // 非阻塞
		nil,       // 参数
	)
	if err != nil {
		return fmt.Errorf("声明队列失败: %w", err)
	}

	r.queueMap[queueName] = true
	logger.Info().Str("queue", queueName).Msg("已确保队列存在")
	return nil
}

// BindQueue 绑定队列到exchange
func (r *RabbitMQ) BindQueue(queueName, exchangeName, routingKey string) error {
	bindingKey := fmt.Sprintf("%s:%s:%s", exchangeName, queueName, routingKey)
	if _, exists := r.bindingMap[bindingKey]; exists {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	err := ch.QueueBind(
		queueName,    // 队列名
		routingKey,   // 路由键
		exchangeName, // exchange名
		false,        // 非阻塞
		nil,          // 参数
	)
	if err != nil {
		return fmt.Errorf("绑定队列到exchange失败: %w", err)
	}

	r.bindingMap[bindingKey] = true
	logger.Info().
		Str("queue", queueName).
		Str("exchange", exchangeName).
		Str("routing_key", routingKey).
		Msg("已绑定队列到exchange")
	return nil
}

// PublishMessage 发布消息到exchange
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	var deliveryMode uint8 = 1 // 非持久化
	if persistent {
		deliveryMode = 2 // 持久化
	}

	return ch.PublishWithContext(
		ctx,
		exchangeName, // exchange名
		routingKey,   // 路由键
		false,        // 强制
		false,        // 立即
		amqp.Publishing{
			DeliveryMode: deliveryMode,
			ContentType:  "application/json",
			Body:         message,
			Timestamp:    time.Now(),
		},
	)
}

// PublishJSON 发布JSON格式的消息
func (r *RabbitMQ) PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("JSON序列化失败: %w", err)
	}

	return r.PublishMessage(ctx, exchangeName, routingKey, jsonData, persistent)
}

// StartConsumer 启动消费者处理函数
// handler返回true表示ack，false表示nack并重新入队。
func (r *RabbitMQ) StartConsumer(queueName string, prefetchCount int, handler func([]byte) bool) (<-chan struct{}, error) {
	stopCh := make(chan struct{})

	ch := r.getChannel()
	if ch == nil {
		return nil, fmt.Errorf("无法获取RabbitMQ通道")
	}

	// 设置QoS，控制预取数量
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		r.putChannel(ch)
		return nil, fmt.Errorf("设置QoS失败: %w", err)
	}

	deliveries, err := ch.Consume(
		queueName, // 队列
		"",        // 消费者标签，留空由server生成唯一标签
		false,     // 自动确认
		false,     // 独占
		false,     // 非本地
		false,     // 非阻塞
		nil,       // 参数
	)
	if err != nil {
		r.putChannel(ch)
		return nil, fmt.Errorf("注册消费者失败: %w", err)
	}

	go func() {
		defer r.putChannel(ch)
		defer logger.Info().Str("queue", queueName).Msg("RabbitMQ消费者已停止")

		logger.Info().Str("queue", queueName).Int("prefetch", prefetchCount).Msg("RabbitMQ消费者已启动")

		for {
			select {
			case <-stopCh:
				return
			case delivery, ok := <-deliveries:
				if !ok {
					logger.Warn().Msg("RabbitMQ通道已关闭")
					return
				}

				if handler(delivery.Body) {
					if err := delivery.Ack(false); err != nil {
						logger.Error().Err(err).Msg("确认消息失败")
					}
				} else {
					// 处理失败，拒绝并重新入队
					if err := delivery.Nack(false, true); err != nil {
						logger.Error().Err(err).Msg("拒绝消息失败")
					}
				}
			}
		}
	}()

	return stopCh, nil
}
