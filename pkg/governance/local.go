package governance

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/stewardai/steward-oss/pkg/domain"
)

const (
	permissionEntrypoint = "steward/permission/decision"
	validationEntrypoint = "steward/validation/decision"

	defaultCacheCapacity = 1024
)

// DefaultPolicyModules returns the built-in Rego modules used when the
// operator supplies none. The defaults deny actions listed in
// context.denied_actions, require approval for context.approval_actions,
// reject worker error results, and flag empty bodies.
func DefaultPolicyModules() map[string]string {
	return map[string]string{
		"permission.rego": `package steward.permission

deny if input.action in input.context.denied_actions

approve if input.action in input.context.approval_actions

decision := {"decision": "DENY", "reason": "action is on the deny list"} if deny

decision := {"decision": "REQUIRE_APPROVAL", "reason": "action requires human approval"} if {
	not deny
	approve
}

default decision := {"decision": "ALLOW", "reason": "no rule matched"}
`,
		"validation.rego": `package steward.validation

decision := {"decision": "REJECT", "reason": "worker reported an error result", "retry": true} if {
	input.status == "error"
}

decision := {"decision": "FLAG_FOR_REVIEW", "reason": "result body is empty"} if {
	input.status == "ok"
	count(input.body) == 0
}

default decision := {"decision": "ACCEPT", "reason": "result passed checks"}
`,
	}
}

// LocalOptions control embedded evaluator construction.
type LocalOptions struct {
	// Modules contains the Rego modules to load. Empty selects
	// DefaultPolicyModules.
	Modules map[string]string
	// CacheMaxEntries bounds the permission decision cache (LRU). Zero
	// selects the default size; negative disables caching entirely.
	CacheMaxEntries int
	Logger          *slog.Logger
}

// LocalService evaluates governance checkpoints with an embedded OPA
// instance. Permission decisions are cached per worker/action pair;
// validation decisions depend on result bodies and are never cached.
type LocalService struct {
	modules       map[string]string
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	cache         *decisionCache
	logger        *slog.Logger

	mu      sync.RWMutex
	queries map[string]*rego.PreparedEvalQuery

	feedbackMu sync.Mutex
	feedback   map[string]*feedbackAggregate
}

type feedbackAggregate struct {
	count int
	sum   int
}

// NewLocalService compiles the supplied modules and warms both checkpoint
// entrypoints so syntax errors surface at startup.
func NewLocalService(ctx context.Context, opts LocalOptions) (*LocalService, error) {
	modules := opts.Modules
	if len(modules) == 0 {
		modules = DefaultPolicyModules()
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}
	var cache *decisionCache
	if maxEntries > 0 {
		cache = newDecisionCache(maxEntries)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	moduleCopy := make(map[string]string, len(modules))
	moduleOrder := make([]string, 0, len(modules))
	for name, src := range modules {
		moduleCopy[name] = src
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(moduleCopy))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, moduleCopy[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	svc := &LocalService{
		modules:       moduleCopy,
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		cache:         cache,
		logger:        logger,
		queries:       make(map[string]*rego.PreparedEvalQuery),
		feedback:      make(map[string]*feedbackAggregate),
	}

	for _, entry := range []string{permissionEntrypoint, validationEntrypoint} {
		if _, err := svc.getPreparedQuery(ctx, entry); err != nil {
			return nil, fmt.Errorf("compile rego modules: %w", err)
		}
	}

	return svc, nil
}

// CheckPermission evaluates the pre-execution checkpoint.
func (s *LocalService) CheckPermission(ctx context.Context, req domain.PermissionRequest) (domain.PermissionResult, error) {
	payload := map[string]any{
		"worker_id": req.WorkerID,
		"action":    req.Action,
		"context":   cloneAnyMap(req.Context),
	}

	cacheKey, shouldCache := s.permissionCacheKey(req)
	if shouldCache {
		if cached, ok := s.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	decision, reason, _, err := s.evaluate(ctx, permissionEntrypoint, payload)
	if err != nil {
		return domain.PermissionResult{}, err
	}

	result := domain.PermissionResult{Reason: reason}
	switch domain.PermissionOutcome(decision) {
	case domain.PermissionAllow, domain.PermissionDeny, domain.PermissionRequireApproval:
		result.Decision = domain.PermissionOutcome(decision)
	default:
		return domain.PermissionResult{}, fmt.Errorf("policy decision: unknown permission outcome %q", decision)
	}

	if shouldCache {
		s.cache.Add(cacheKey, result)
	}
	return result, nil
}

// ValidateResult evaluates the post-execution checkpoint.
func (s *LocalService) ValidateResult(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
	payload := map[string]any{
		"worker_id": req.WorkerID,
		"action":    req.Action,
		"status":    req.Result.Status,
		"body":      cloneAnyMap(req.Result.Body),
		"context":   cloneAnyMap(req.Context),
	}

	decision, reason, retry, err := s.evaluate(ctx, validationEntrypoint, payload)
	if err != nil {
		return domain.ValidationResult{}, err
	}

	result := domain.ValidationResult{Reason: reason, ShouldRetry: retry}
	switch domain.ValidationOutcome(decision) {
	case domain.ValidationAccept, domain.ValidationReject, domain.ValidationFlagForReview:
		result.Decision = domain.ValidationOutcome(decision)
	default:
		return domain.ValidationResult{}, fmt.Errorf("policy decision: unknown validation outcome %q", decision)
	}
	return result, nil
}

// ReportExecution records the report in the service log. The embedded
// evaluator has no audit backend; remote deployments use HTTPService.
func (s *LocalService) ReportExecution(_ context.Context, report domain.ExecutionReport) error {
	s.logger.Info("execution report",
		"execution_id", report.ExecutionID,
		"task_id", report.TaskID,
		"worker_id", report.WorkerID,
		"status", string(report.Status),
		"violation", report.Violation,
		"worker_duration", report.WorkerDuration,
		"total_duration", report.TotalDuration,
	)
	return nil
}

// SubmitFeedback folds the rating into a per-worker running aggregate and
// returns the worker's normalized feedback score in [0, 1].
func (s *LocalService) SubmitFeedback(_ context.Context, fb domain.Feedback) (float64, error) {
	if fb.Rating < 1 || fb.Rating > 5 {
		return 0, fmt.Errorf("%w: feedback rating %d out of range [1, 5]", domain.ErrConfigInvalid, fb.Rating)
	}
	if strings.TrimSpace(fb.WorkerID) == "" {
		return 0, fmt.Errorf("%w: feedback requires a worker id", domain.ErrConfigInvalid)
	}

	s.feedbackMu.Lock()
	defer s.feedbackMu.Unlock()

	agg, ok := s.feedback[fb.WorkerID]
	if !ok {
		agg = &feedbackAggregate{}
		s.feedback[fb.WorkerID] = agg
	}
	agg.count++
	agg.sum += fb.Rating

	mean := float64(agg.sum) / float64(agg.count)
	return (mean - 1) / 4, nil
}

// FlushCache clears all cached permission decisions. Safe to call
// concurrently; the config watcher calls this on policy reload.
func (s *LocalService) FlushCache() {
	if s.cache != nil {
		s.cache.Clear()
	}
}

func (s *LocalService) evaluate(ctx context.Context, entry string, payload map[string]any) (decision, reason string, retry bool, err error) {
	prepared, err := s.getPreparedQuery(ctx, entry)
	if err != nil {
		return "", "", false, fmt.Errorf("prepare query: %w", err)
	}

	start := time.Now()
	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return "", "", false, fmt.Errorf("policy decision: %w", err)
	}
	s.logger.Debug("policy evaluated", "entrypoint", entry, "latency", time.Since(start))

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", "", false, fmt.Errorf("policy decision: entrypoint %q produced no result", entry)
	}

	decisionPayload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return "", "", false, fmt.Errorf("policy decision: unexpected result type %T", results[0].Expressions[0].Value)
	}

	decision, _ = decisionPayload["decision"].(string)
	reason, _ = decisionPayload["reason"].(string)
	retry, _ = decisionPayload["retry"].(bool)
	return decision, reason, retry, nil
}

func (s *LocalService) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	s.mu.RLock()
	if prepared, ok := s.queries[entry]; ok {
		s.mu.RUnlock()
		return prepared, nil
	}
	s.mu.RUnlock()

	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(s.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range s.moduleOrder {
		opts = append(opts, rego.ParsedModule(s.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := s.queries[entry]; ok {
		return existing, nil
	}
	s.queries[entry] = &prepared
	return &prepared, nil
}

// permissionCacheKey hashes the worker, action, and canonical context into a
// stable key. Contexts that fail to marshal disable caching for that call.
func (s *LocalService) permissionCacheKey(req domain.PermissionRequest) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	worker := strings.TrimSpace(req.WorkerID)
	action := strings.TrimSpace(req.Action)
	if worker == "" || action == "" {
		return "", false
	}

	h := sha256.New()
	writeCacheKeyField(h, worker)
	writeCacheKeyField(h, action)
	if len(req.Context) > 0 {
		encoded, err := json.Marshal(req.Context)
		if err != nil {
			return "", false
		}
		h.Write(encoded)
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// writeCacheKeyField writes a field to the hash followed by a null delimiter.
func writeCacheKeyField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value domain.PermissionResult
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (domain.PermissionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return domain.PermissionResult{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(cacheItem).value, true
}

func (c *decisionCache) Add(key string, value domain.PermissionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(cacheItem{key: key, value: value})
	c.entries[key] = elem

	if c.order.Len() <= c.max {
		return
	}

	tail := c.order.Back()
	if tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}
