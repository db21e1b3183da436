package etims

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"github.com/gin-gonic/gin"
)

// PubSubPushHandler receives push deliveries from the jobs subscription.
// Malformed envelopes are acked with 204 so Pub/Sub stops redelivering
// them; handler failures return 500 so delivery retries with backoff.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_ETIMS_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var job config.EtimsJob
		if err := json.Unmarshal(envelope.Message.Data, &job); err != nil {
			c.Status(204)
			return
		}
		if job.Step == "" || job.CompanyName == "" {
			c.Status(204)
			return
		}

		if err := ProcessJob(c.Request.Context(), config.GetDB(), job); err != nil {
			if IsRetryable(err) {
				c.Status(500)
				return
			}
			// Terminal failures are already recorded; redelivery cannot help.
		}
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
