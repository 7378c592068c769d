/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/repay/config"
	"github.com/blnkfinance/repay/internal/request"
)

// SystemErrorEvent is the webhook event name used for operational alerts.
const SystemErrorEvent = "system.error"

// WebhookSender delivers an alert as a webhook event.
type WebhookSender func(event string, payload interface{}) error

var (
	senderMu      sync.RWMutex
	webhookSender WebhookSender
)

// RegisterWebhookSender sets the function NotifyError uses to forward alerts
// as webhook events. Registering again replaces the previous sender.
func RegisterWebhookSender(sender WebhookSender) {
	senderMu.Lock()
	defer senderMu.Unlock()
	webhookSender = sender
}

func currentSender() WebhookSender {
	senderMu.RLock()
	defer senderMu.RUnlock()
	return webhookSender
}

// slackMessage builds the block payload posted to Slack.
func slackMessage(err error, at time.Time) json.RawMessage {
	text, _ := json.Marshal(fmt.Sprintf("*Error:*\n%v", err.Error()))
	return json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From Repay 🐞",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": %s
					}
				]
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%v"
					}
				]
			}
		]
	}`, text, at.Format(time.RFC822)))
}

// SlackNotification posts err to the configured Slack webhook. It blocks
// until Slack answers and returns the delivery error, if any.
func SlackNotification(err error) error {
	conf, cfgErr := config.Fetch()
	if cfgErr != nil {
		return cfgErr
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return nil
	}

	data := slackMessage(err, time.Now())
	payload, reqErr := request.ToJsonReq(&data)
	if reqErr != nil {
		return reqErr
	}

	req, reqErr := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
	if reqErr != nil {
		return reqErr
	}

	// Slack answers with plain text "ok".
	_, reqErr = request.Call(req, nil)
	return reqErr
}

// Alert logs systemError and forwards it to Slack and to the registered
// webhook sender. Delivery failures are logged, never returned.
func Alert(systemError error, fields logrus.Fields) {
	logrus.WithFields(fields).Error(systemError)

	if err := SlackNotification(systemError); err != nil {
		logrus.WithError(err).Warn("failed to send slack notification")
	}

	if sender := currentSender(); sender != nil {
		payload := map[string]interface{}{"error": systemError.Error()}
		for k, v := range fields {
			payload[k] = v
		}
		if err := sender(SystemErrorEvent, payload); err != nil {
			logrus.WithError(err).Warn("failed to send system error webhook")
		}
	}
}

// NotifyError runs Alert in the background so callers on the settlement path
// never wait on Slack.
func NotifyError(systemError error, fields logrus.Fields) {
	go Alert(systemError, fields)
}
