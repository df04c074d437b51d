// Package redisstore is an alternate asyncmgr.Store for deployments that
// already run Redis and want task state shared across processes without a
// relational database. Adapted from the teacher's deleted adapters/redis
// package: the same "load a Lua script once, EVALSHA it per call" idiom
// that package used for its event-append/timer scripts, repurposed here
// for an atomic compare-and-set status transition instead of event
// logging.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaygate/core/asyncmgr"
	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
)

const keyPrefix = "relaygate:asyncmgr:"

func taskKey(id string) string   { return keyPrefix + "task:" + id }
func statusKey(s string) string  { return keyPrefix + "status:" + s }

// luaUpdateStatus atomically verifies the task's current status matches
// the expected prior status before applying the new field values and
// moving the task between status sets, implementing spec.md §6's
// "UPDATE ... WHERE status = ?" optimistic concurrency over a Redis hash
// instead of a SQL row.
const luaUpdateStatus = `
local taskKey = KEYS[1]
local oldStatusKey = KEYS[2]
local newStatusKey = KEYS[3]
local expectedStatus = ARGV[1]
local newStatus = ARGV[2]
local fieldsJSON = ARGV[3]

local current = redis.call('HGET', taskKey, 'status')
if current ~= expectedStatus then
	return 0
end

local fields = cjson.decode(fieldsJSON)
for k, v in pairs(fields) do
	redis.call('HSET', taskKey, k, v)
end
redis.call('HSET', taskKey, 'status', newStatus)
redis.call('SREM', oldStatusKey, taskKey)
redis.call('SADD', newStatusKey, taskKey)
return 1
`

// Store is a Redis-backed asyncmgr.Store.
type Store struct {
	client         *redis.Client
	updateStatusSHA string
}

// New wraps client, loading the update-status script into Redis's script
// cache.
func New(ctx context.Context, client *redis.Client) (*Store, error) {
	sha, err := client.ScriptLoad(ctx, luaUpdateStatus).Result()
	if err != nil {
		return nil, fmt.Errorf("load update-status script: %w", err)
	}
	return &Store{client: client, updateStatusSHA: sha}, nil
}

func (s *Store) Insert(ctx context.Context, t asyncmgr.Task) error {
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, taskKey(t.ID), map[string]any{
		"task_id":    t.ID,
		"status":     string(t.Status),
		"config":     string(configJSON),
		"created_ts": float64(t.CreatedAt.Unix()),
		"progress":   t.Progress,
	})
	pipe.SAdd(ctx, statusKey(string(t.Status)), taskKey(t.ID))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (asyncmgr.Task, error) {
	fields, err := s.client.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return asyncmgr.Task{}, fmt.Errorf("get task: %w", err)
	}
	if len(fields) == 0 {
		return asyncmgr.Task{}, &asyncmgr.ErrNotFound{ID: id}
	}
	return decodeTask(id, fields)
}

func (s *Store) UpdateStatus(ctx context.Context, id string, expectedStatus, newStatus asyncmgr.Status, mutate asyncmgr.Mutator) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != expectedStatus {
		return &asyncmgr.ErrStaleStatus{ID: id, Expected: expectedStatus, Actual: t.Status}
	}
	t.Status = newStatus
	if mutate != nil {
		mutate(&t)
	}

	fields := map[string]any{"progress": t.Progress}
	if t.StartedAt != nil {
		fields["started_ts"] = float64(t.StartedAt.Unix())
	}
	if t.CompletedAt != nil {
		fields["completed_ts"] = float64(t.CompletedAt.Unix())
	}
	if t.Result != nil {
		b, err := json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fields["result"] = string(b)
	}
	if t.Err != nil {
		b, err := json.Marshal(toStoredError(t.Err))
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		fields["error"] = string(b)
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal update fields: %w", err)
	}

	result, err := s.client.EvalSha(ctx, s.updateStatusSHA,
		[]string{taskKey(id), statusKey(string(expectedStatus)), statusKey(string(newStatus))},
		string(expectedStatus), string(newStatus), string(fieldsJSON),
	).Int()
	if err != nil {
		return fmt.Errorf("eval update-status script: %w", err)
	}
	if result == 0 {
		cur, gerr := s.Get(ctx, id)
		if gerr != nil {
			return gerr
		}
		return &asyncmgr.ErrStaleStatus{ID: id, Expected: expectedStatus, Actual: cur.Status}
	}
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...asyncmgr.Status) ([]asyncmgr.Task, error) {
	var out []asyncmgr.Task
	for _, st := range statuses {
		keys, err := s.client.SMembers(ctx, statusKey(string(st))).Result()
		if err != nil {
			return nil, fmt.Errorf("list status set %q: %w", st, err)
		}
		for _, k := range keys {
			id := k[len(taskKey("")):]
			t, err := s.Get(ctx, id)
			if err != nil {
				continue
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func decodeTask(id string, fields map[string]string) (asyncmgr.Task, error) {
	var cfg message.CallConfig
	if c, ok := fields["config"]; ok && c != "" {
		if err := json.Unmarshal([]byte(c), &cfg); err != nil {
			return asyncmgr.Task{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	t := asyncmgr.Task{
		ID:       id,
		Status:   asyncmgr.Status(fields["status"]),
		Config:   cfg,
		Progress: fields["progress"],
	}
	if createdTS, ok := fields["created_ts"]; ok && createdTS != "" {
		t.CreatedAt = parseUnixFloat(createdTS)
	}
	if startedTS, ok := fields["started_ts"]; ok && startedTS != "" {
		st := parseUnixFloat(startedTS)
		t.StartedAt = &st
	}
	if completedTS, ok := fields["completed_ts"]; ok && completedTS != "" {
		ct := parseUnixFloat(completedTS)
		t.CompletedAt = &ct
	}
	if r, ok := fields["result"]; ok && r != "" {
		var resp llm.Response
		if err := json.Unmarshal([]byte(r), &resp); err != nil {
			return asyncmgr.Task{}, fmt.Errorf("unmarshal result: %w", err)
		}
		t.Result = &resp
	}
	if e, ok := fields["error"]; ok && e != "" {
		var se storedError
		if err := json.Unmarshal([]byte(e), &se); err != nil {
			return asyncmgr.Task{}, fmt.Errorf("unmarshal error: %w", err)
		}
		t.Err = se.toGatewayErr()
	}
	return t, nil
}

func parseUnixFloat(s string) time.Time {
	var f float64
	_, _ = fmt.Sscanf(s, "%f", &f)
	return time.Unix(int64(f), 0)
}

type storedError struct {
	Kind       gatewayerr.Kind              `json:"kind"`
	Message    string                       `json:"message"`
	Attempts   []gatewayerr.AttemptSummary  `json:"attempts,omitempty"`
	Diagnostic *gatewayerr.DiagnosticReport `json:"diagnostic,omitempty"`
	CauseText  string                       `json:"cause,omitempty"`
}

func toStoredError(ge *gatewayerr.Error) storedError {
	se := storedError{Kind: ge.Kind, Message: ge.Message, Attempts: ge.Attempts, Diagnostic: ge.Diagnostic}
	if ge.Cause != nil {
		se.CauseText = ge.Cause.Error()
	}
	return se
}

func (s storedError) toGatewayErr() *gatewayerr.Error {
	ge := &gatewayerr.Error{Kind: s.Kind, Message: s.Message, Attempts: s.Attempts, Diagnostic: s.Diagnostic}
	if s.CauseText != "" {
		ge.Cause = fmt.Errorf("%s", s.CauseText)
	}
	return ge
}
