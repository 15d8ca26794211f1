package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"event-pipeline/internal/client"
	"event-pipeline/internal/config"
	"event-pipeline/internal/util"
)

// loadgen publishes synthetic CDC envelopes to the inbound topics so the
// pipeline can be exercised without real source connectors.

var (
	consoleEventTypes = []string{
		"login_success", "login_failure", "remote_session_start",
		"remote_session_end", "file_transfer", "permission_change",
	}
	rmmEventTypes = []string{
		"user.login", "user.login_failed", "agent.install", "agent.offline",
		"script.run", "patch.applied", "patch.failed", "alert.triggered",
	}
	mdmEventTypes = []string{
		"fleet_enrolled", "fleet_unenrolled", "policy_applied",
		"policy_violation", "profile_installed", "device_locked",
	}
)

func main() {
	count := flag.Int("count", 1000, "number of events to publish")
	rate := flag.Duration("interval", 10*time.Millisecond, "delay between events")
	seed := flag.Int64("seed", 0, "random seed, 0 for time-based")
	agents := flag.Int("agents", 50, "size of the synthetic agent population")
	flag.Parse()

	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if *seed != 0 {
		gofakeit.Seed(*seed)
	}

	producer, err := client.NewKafkaProducer(cfg, util.Get())
	if err != nil {
		util.Fatal("Failed to initialize Kafka producer", util.ErrorField(err))
	}
	defer producer.Close()

	agentIDs := make([]string, *agents)
	for i := range agentIDs {
		agentIDs[i] = gofakeit.UUID()
	}

	ctx := context.Background()
	for i := 0; i < *count; i++ {
		topic, envelope := nextEnvelope(cfg, agentIDs)
		if err := producer.ProduceMessage(ctx, topic, []byte(gofakeit.UUID()), envelope, nil); err != nil {
			util.Error("Failed to publish synthetic event", util.ErrorField(err))
		}
		time.Sleep(*rate)
	}

	util.Info("Load generation complete", util.Int("events", *count))
}

func nextEnvelope(cfg *config.Config, agentIDs []string) (string, []byte) {
	agentID := agentIDs[gofakeit.Number(0, len(agentIDs)-1)]

	switch gofakeit.Number(0, 2) {
	case 0:
		return cfg.Kafka.ConsoleTopic, consoleEnvelope(agentID)
	case 1:
		return cfg.Kafka.RMMTopic, rmmEnvelope(agentID)
	default:
		return cfg.Kafka.MDMTopic, mdmEnvelope(agentID)
	}
}

// consoleEnvelope mimics an oplog connector: the after image is serialized as
// a JSON string inside the envelope.
func consoleEnvelope(agentID string) []byte {
	doc := map[string]interface{}{
		"_id":         gofakeit.UUID(),
		"agent_guid":  agentID,
		"event_type":  pick(consoleEventTypes),
		"description": gofakeit.HackerPhrase(),
		"actor":       map[string]interface{}{"username": gofakeit.Email()},
	}
	docJSON, _ := json.Marshal(doc)
	return envelope("mongodb", "console", "session_events", string(docJSON))
}

func rmmEnvelope(agentID string) []byte {
	return envelope("mysql", "rmm", "activity_log", map[string]interface{}{
		"id":           gofakeit.Number(1, 1_000_000),
		"agent_uid":    agentID,
		"activity":     pick(rmmEventTypes),
		"message":      gofakeit.Sentence(8),
		"initiated_by": gofakeit.Username(),
	})
}

func mdmEnvelope(agentID string) []byte {
	return envelope("postgresql", "mdm", "host_activities", map[string]interface{}{
		"uuid":            gofakeit.UUID(),
		"agent_id":        agentID,
		"host_identifier": fmt.Sprintf("host-%s", gofakeit.LetterN(8)),
		"activity_type":   pick(mdmEventTypes),
		"details":         gofakeit.Sentence(6),
		"actor_email":     gofakeit.Email(),
	})
}

func envelope(connector, db, table string, after interface{}) []byte {
	msg := map[string]interface{}{
		"payload": map[string]interface{}{
			"op":     "c",
			"before": nil,
			"after":  after,
			"source": map[string]interface{}{
				"connector": connector,
				"db":        db,
				"table":     table,
			},
			"ts_ms": time.Now().UnixMilli(),
		},
	}
	out, _ := json.Marshal(msg)
	return out
}

func pick(values []string) string {
	return values[gofakeit.Number(0, len(values)-1)]
}
