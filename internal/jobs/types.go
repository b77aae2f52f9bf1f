package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskNotifyNews = "notify:news"

// QueueNotify is the asynq queue notification tasks run on.
const QueueNotify = "notify"

type NotifyNewsPayload struct {
	NewsID string `json:"news_id"`
}

// NewNotifyNewsTask builds the task that fans a published item out to every
// resident.
func NewNotifyNewsTask(newsID string) (*asynq.Task, error) {
	payload, err := json.Marshal(NotifyNewsPayload{NewsID: newsID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyNews, payload,
		asynq.Queue(QueueNotify),
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
	), nil
}
