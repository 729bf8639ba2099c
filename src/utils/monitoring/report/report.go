package report

type Report struct {
	Run            *RunReport            `json:"run,omitempty"`
	BtcWatch       *BtcWatchReport       `json:"btc_watch,omitempty"`
	RedisPublisher *RedisPublisherReport `json:"redis_publisher,omitempty"`
}
