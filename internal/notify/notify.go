package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/smtp"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey  = "notifications"
	failedKey = "notifications:failed"
	maxTries  = 3
)

type EmailJob struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Tries   int       `json:"tries"`
	Created time.Time `json:"created"`
}

// Queue pushes outbound emails through redis so a request never blocks on
// SMTP. Enqueue is fire-and-forget; delivery problems only get logged.
type Queue struct {
	rdb          *redis.Client
	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	from         string
}

func NewQueue(rdb *redis.Client, smtpHost, smtpPort, smtpUser, smtpPassword, from string) *Queue {
	return &Queue{
		rdb:          rdb,
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		smtpUser:     smtpUser,
		smtpPassword: smtpPassword,
		from:         from,
	}
}

func (q *Queue) Enqueue(ctx context.Context, to, subject, body string) {
	job := EmailJob{To: to, Subject: subject, Body: body, Created: time.Now().UTC()}
	encoded, err := json.Marshal(job)
	if err != nil {
		log.Printf("notify: marshal job for %s: %v", to, err)
		return
	}
	if err := q.rdb.LPush(ctx, queueKey, encoded).Err(); err != nil {
		log.Printf("notify: enqueue for %s: %v", to, err)
	}
}

// Work drains the queue until ctx is cancelled. Jobs that fail delivery are
// retried up to maxTries, then parked on the failed list.
func (q *Queue) Work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		result, err := q.rdb.BRPop(ctx, 5*time.Second, queueKey).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("notify: pop: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}
		var job EmailJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("notify: bad job payload: %v", err)
			continue
		}
		if err := q.send(job); err != nil {
			job.Tries++
			log.Printf("notify: send to %s failed (try %d): %v", job.To, job.Tries, err)
			encoded, _ := json.Marshal(job)
			if job.Tries >= maxTries {
				q.rdb.LPush(ctx, failedKey, encoded)
				continue
			}
			q.rdb.LPush(ctx, queueKey, encoded)
		}
	}
}

func (q *Queue) send(job EmailJob) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", q.from, job.To, job.Subject, job.Body)
	addr := q.smtpHost + ":" + q.smtpPort
	auth := smtp.PlainAuth("", q.smtpUser, q.smtpPassword, q.smtpHost)
	return smtp.SendMail(addr, auth, q.from, []string{job.To}, []byte(msg))
}
