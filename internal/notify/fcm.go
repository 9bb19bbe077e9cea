package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCM multicast messages accept at most this many tokens per call.
const multicastLimit = 500

// FCM delivers notifications through Firebase Cloud Messaging.
type FCM struct {
	client *messaging.Client
}

// NewFCM builds an FCM notifier from a service-account credentials file.
func NewFCM(ctx context.Context, credentialsFile, projectID string) (*FCM, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init fcm client: %w", err)
	}
	return &FCM{client: client}, nil
}

func (f *FCM) Send(ctx context.Context, tokens []string, title, body string) (Report, error) {
	var report Report
	for _, chunk := range chunkTokens(tokens, multicastLimit) {
		resp, err := f.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: chunk,
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
		})
		if err != nil {
			// The whole chunk is undelivered; record it and keep going.
			report.Failure += len(chunk)
			report.Failed = append(report.Failed, chunk...)
			continue
		}
		report.Success += resp.SuccessCount
		report.Failure += resp.FailureCount
		for i, sr := range resp.Responses {
			if !sr.Success {
				report.Failed = append(report.Failed, chunk[i])
			}
		}
	}
	return report, nil
}

func chunkTokens(tokens []string, size int) [][]string {
	if len(tokens) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[start:end])
	}
	return chunks
}
