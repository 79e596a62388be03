package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripForbiddenRecursive(t *testing.T) {
	in := map[string]interface{}{
		"status":    200,
		"user_text": "never record this",
		"nested": map[string]interface{}{
			"prompt":  "hidden",
			"latency": 12,
			"deeper": []interface{}{
				map[string]interface{}{"snippet": "x", "domain": "example.org"},
			},
		},
	}

	out, dropped := StripForbidden(in)
	assert.Equal(t, 3, dropped)

	m := out.(map[string]interface{})
	assert.NotContains(t, m, "user_text")
	nested := m["nested"].(map[string]interface{})
	assert.NotContains(t, nested, "prompt")
	assert.Equal(t, 12, nested["latency"])
	deep := nested["deeper"].([]interface{})[0].(map[string]interface{})
	assert.NotContains(t, deep, "snippet")
	assert.Equal(t, "example.org", deep["domain"])
}

func TestStripForbiddenScalarsPassThrough(t *testing.T) {
	out, dropped := StripForbidden("just a string")
	assert.Zero(t, dropped)
	assert.Equal(t, "just a string", out)
}

func TestSignStableAndCoversBody(t *testing.T) {
	ev := Event{Kind: "chat_completed", RequestID: "r1", AtMs: 1000,
		Fields: map[string]interface{}{"status": float64(200)}}

	a, err := Sign(ev)
	require.NoError(t, err)
	b, err := Sign(ev)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// An existing signature does not feed back into the hash.
	ev.Signature = a
	c, err := Sign(ev)
	require.NoError(t, err)
	assert.Equal(t, a, c)

	ev.Signature = ""
	ev.AtMs = 1001
	d, err := Sign(ev)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestTelemetryEmitStripsAndSigns(t *testing.T) {
	sink := NewMemorySink(10)
	tel := NewTelemetry(sink)

	ev := tel.Emit("chat_completed", "r1", "t1", 5000, map[string]interface{}{
		"status":    200,
		"user_text": "should not leave the process",
	})
	assert.NotContains(t, ev.Fields, "user_text")
	assert.NotEmpty(t, ev.Signature)
	assert.Equal(t, int64(1), tel.DroppedFields())

	got := sink.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, ev.Signature, got[0].Signature)

	sig, err := Sign(got[0])
	require.NoError(t, err)
	assert.Equal(t, got[0].Signature, sig)
}

func TestTelemetryNormalizesNestedStructs(t *testing.T) {
	type inner struct {
		Prompt string `json:"prompt"`
		Code   int    `json:"code"`
	}
	tel := NewTelemetry()
	ev := tel.Emit("k", "r", "", 0, map[string]interface{}{
		"detail": inner{Prompt: "secret", Code: 7},
	})
	detail := ev.Fields["detail"].(map[string]interface{})
	assert.NotContains(t, detail, "prompt")
	assert.Equal(t, float64(7), detail["code"])
}

func TestMemorySinkBounded(t *testing.T) {
	sink := NewMemorySink(2)
	for i := 0; i < 5; i++ {
		sink.Emit(Event{AtMs: int64(i)})
	}
	got := sink.Snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].AtMs)
	assert.Equal(t, int64(4), got[1].AtMs)
}

func TestAuditChainLinksAndVerifies(t *testing.T) {
	c := NewAuditChain(16)
	first := c.Append(1000, "r1", "waf", "allow", nil)
	second := c.Append(1001, "r1", "quota", "allow", map[string]interface{}{"tier": "FREE"})

	assert.Equal(t, genesisHash, first.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.Equal(t, second.Hash, c.Head())
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)

	seq, err := c.Verify()
	require.NoError(t, err)
	assert.Zero(t, seq)
}

func TestAuditChainDetectsTamper(t *testing.T) {
	c := NewAuditChain(16)
	c.Append(1000, "r1", "waf", "allow", nil)
	c.Append(1001, "r1", "quota", "deny", nil)

	c.mu.Lock()
	c.entries[1].Outcome = "allow"
	c.mu.Unlock()

	seq, err := c.Verify()
	require.Error(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestAuditChainStripsFields(t *testing.T) {
	c := NewAuditChain(16)
	e := c.Append(1000, "r1", "model", "fallback", map[string]interface{}{
		"rendered_text": "private",
		"failure":       "TIMEOUT",
	})
	assert.NotContains(t, e.Fields, "rendered_text")
	assert.Equal(t, "TIMEOUT", e.Fields["failure"])
}

func TestAuditChainEvictionKeepsSequenceAndLinks(t *testing.T) {
	c := NewAuditChain(3)
	for i := 0; i < 6; i++ {
		c.Append(int64(i), "r", "stage", "ok", nil)
	}
	tail := c.Tail(0)
	require.Len(t, tail, 3)
	assert.Equal(t, int64(4), tail[0].Seq)
	assert.Equal(t, int64(6), tail[2].Seq)

	seq, err := c.Verify()
	require.NoError(t, err)
	assert.Zero(t, seq)
}

func TestMetricsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	m.RequestsTotal.WithLabelValues("ANSWER", "200").Inc()
	m.RequestsTotal.WithLabelValues("REFUSE", "429").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
