package store

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"vehicleinfo/pkg/platform/sentinel"
)

// InMemoryStore evaluates the aggregation subset used by the vehicle listing
// ($match, $lookup, $unwind, $project, $sort, $skip, $limit, $count) over
// in-process collections. It backs tests and the memory store driver.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]bson.M
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{collections: make(map[string][]bson.M)}
}

// Insert appends documents to a collection.
func (s *InMemoryStore) Insert(collection string, docs ...bson.M) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.collections[collection] = append(s.collections[collection], normalizeDoc(d))
	}
}

// LoadExtJSON seeds collections from an Extended JSON document of the form
// {"<collection>": [ {...}, ... ], ...}.
func (s *InMemoryStore) LoadExtJSON(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed bson.M
	if err := bson.UnmarshalExtJSON(data, false, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	for name, raw := range seed {
		arr, ok := normalizeValue(raw).([]any)
		if !ok {
			return fmt.Errorf("parse seed: collection %q must be an array", name)
		}
		for i, item := range arr {
			doc, ok := item.(bson.M)
			if !ok {
				return fmt.Errorf("parse seed: %s[%d] must be a document", name, i)
			}
			s.Insert(name, doc)
		}
	}
	return nil
}

// Aggregate runs pipeline over collection. Unsupported or malformed stages
// return an error wrapping sentinel.ErrQuery.
func (s *InMemoryStore) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("aggregate aborted: %w", err)
	}

	s.mu.RLock()
	docs := make([]bson.M, len(s.collections[collection]))
	for i, d := range s.collections[collection] {
		docs[i] = cloneDoc(d)
	}
	s.mu.RUnlock()

	out, err := s.run(ctx, docs, pipeline)
	if err != nil {
		return nil, err
	}

	raws := make([]bson.Raw, 0, len(out))
	for _, d := range out {
		b, err := bson.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("%w: encode result: %w", sentinel.ErrQuery, err)
		}
		raws = append(raws, bson.Raw(b))
	}
	return raws, nil
}

func (s *InMemoryStore) run(ctx context.Context, docs []bson.M, stages []bson.D) ([]bson.M, error) {
	var err error
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("aggregate aborted: %w", err)
		}
		if len(stage) != 1 {
			return nil, fmt.Errorf("%w: stage %d must have exactly one operator", sentinel.ErrQuery, i)
		}
		op, arg := stage[0].Key, stage[0].Value
		switch op {
		case "$match":
			docs, err = stageMatch(docs, arg)
		case "$lookup":
			docs, err = s.stageLookup(ctx, docs, arg)
		case "$unwind":
			docs, err = stageUnwind(docs, arg)
		case "$project":
			docs, err = stageProject(docs, arg)
		case "$sort":
			docs, err = stageSort(docs, arg)
		case "$skip":
			docs, err = stageSkip(docs, arg)
		case "$limit":
			docs, err = stageLimit(docs, arg)
		case "$count":
			docs, err = stageCount(docs, arg)
		default:
			err = fmt.Errorf("unrecognized pipeline stage name: %q", op)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", sentinel.ErrQuery, op, err)
		}
	}
	return docs, nil
}

// --- stages ---

func stageMatch(docs []bson.M, arg any) ([]bson.M, error) {
	filter, err := asD(arg)
	if err != nil {
		return nil, err
	}
	out := docs[:0:0]
	for _, d := range docs {
		ok, err := matches(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func matches(doc bson.M, filter bson.D) (bool, error) {
	for _, e := range filter {
		switch e.Key {
		case "$or", "$and":
			clauses, ok := toArray(e.Value)
			if !ok || len(clauses) == 0 {
				return false, fmt.Errorf("%s must be a nonempty array", e.Key)
			}
			matched := false
			for _, c := range clauses {
				sub, err := asD(c)
				if err != nil {
					return false, err
				}
				ok, err := matches(doc, sub)
				if err != nil {
					return false, err
				}
				if e.Key == "$or" && ok {
					matched = true
					break
				}
				if e.Key == "$and" && !ok {
					return false, nil
				}
			}
			if e.Key == "$or" && !matched {
				return false, nil
			}
		default:
			ok, err := matchField(doc, e.Key, e.Value)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

func matchField(doc bson.M, path string, cond any) (bool, error) {
	val, present := lookupPath(doc, path)

	ops, isOps := operatorDoc(cond)
	if !isOps {
		return valuesEqual(val, present, normalizeValue(cond), true), nil
	}
	for _, op := range ops {
		switch op.Key {
		case "$exists":
			if truthy(op.Value) != present {
				return false, nil
			}
		case "$eq":
			if !valuesEqual(val, present, normalizeValue(op.Value), true) {
				return false, nil
			}
		case "$ne":
			if valuesEqual(val, present, normalizeValue(op.Value), true) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unknown operator: %s", op.Key)
		}
	}
	return true, nil
}

func (s *InMemoryStore) stageLookup(ctx context.Context, docs []bson.M, arg any) ([]bson.M, error) {
	args, err := asD(arg)
	if err != nil {
		return nil, err
	}
	var from, localField, foreignField, as string
	var sub []bson.D
	for _, e := range args {
		switch e.Key {
		case "from":
			from, _ = e.Value.(string)
		case "localField":
			localField, _ = e.Value.(string)
		case "foreignField":
			foreignField, _ = e.Value.(string)
		case "as":
			as, _ = e.Value.(string)
		case "pipeline":
			stages, ok := toArray(e.Value)
			if !ok {
				return nil, fmt.Errorf("pipeline must be an array")
			}
			for _, st := range stages {
				d, err := asD(st)
				if err != nil {
					return nil, err
				}
				sub = append(sub, d)
			}
		default:
			return nil, fmt.Errorf("unknown argument to $lookup: %s", e.Key)
		}
	}
	if from == "" || as == "" || localField == "" || foreignField == "" {
		return nil, fmt.Errorf("from, localField, foreignField and as are required")
	}

	s.mu.RLock()
	foreign := make([]bson.M, len(s.collections[from]))
	for i, d := range s.collections[from] {
		foreign[i] = cloneDoc(d)
	}
	s.mu.RUnlock()

	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		local, localPresent := lookupPath(d, localField)
		var candidates []bson.M
		for _, f := range foreign {
			fv, fPresent := lookupPath(f, foreignField)
			if joinMatches(local, localPresent, fv, fPresent) {
				candidates = append(candidates, cloneDoc(f))
			}
		}
		if len(sub) > 0 {
			candidates, err = s.run(ctx, candidates, sub)
			if err != nil {
				return nil, err
			}
		}
		joined := make([]any, len(candidates))
		for i, c := range candidates {
			joined[i] = c
		}
		d = cloneDoc(d)
		setPath(d, as, joined)
		out = append(out, d)
	}
	return out, nil
}

// joinMatches follows equality-match semantics: a missing or null local value
// matches foreign documents whose field is missing or null, and an array on
// either side matches when any element matches.
func joinMatches(local any, localPresent bool, foreign any, foreignPresent bool) bool {
	if arr, ok := local.([]any); ok {
		for _, v := range arr {
			if joinMatches(v, true, foreign, foreignPresent) {
				return true
			}
		}
		return false
	}
	if arr, ok := foreign.([]any); ok {
		for _, v := range arr {
			if joinMatches(local, localPresent, v, true) {
				return true
			}
		}
		return false
	}
	return valuesEqual(local, localPresent, foreign, foreignPresent)
}

func stageUnwind(docs []bson.M, arg any) ([]bson.M, error) {
	var path string
	preserve := false
	switch v := arg.(type) {
	case string:
		path = v
	default:
		args, err := asD(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range args {
			switch e.Key {
			case "path":
				path, _ = e.Value.(string)
			case "preserveNullAndEmptyArrays":
				preserve = truthy(e.Value)
			default:
				return nil, fmt.Errorf("unrecognized option to $unwind: %s", e.Key)
			}
		}
	}
	if !strings.HasPrefix(path, "$") || len(path) < 2 {
		return nil, fmt.Errorf("path option must be a field path prefixed with '$'")
	}
	field := path[1:]

	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		val, present := lookupPath(d, field)
		arr, isArr := val.([]any)
		switch {
		case isArr && len(arr) > 0:
			for _, elem := range arr {
				c := cloneDoc(d)
				setPath(c, field, cloneValue(elem))
				out = append(out, c)
			}
		case isArr:
			if preserve {
				c := cloneDoc(d)
				unsetPath(c, field)
				out = append(out, c)
			}
		case !present || val == nil:
			if preserve {
				out = append(out, d)
			}
		default:
			out = append(out, d)
		}
	}
	return out, nil
}

func stageProject(docs []bson.M, arg any) ([]bson.M, error) {
	args, err := asD(arg)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("$project must name at least one field")
	}

	includeID := true
	exclusion := true
	for _, e := range args {
		if e.Key == "_id" {
			if isFlag(e.Value) {
				includeID = truthy(e.Value)
				continue
			}
		}
		if isFlag(e.Value) && !truthy(e.Value) {
			continue
		}
		exclusion = false
	}

	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		if exclusion {
			c := cloneDoc(d)
			for _, e := range args {
				if !truthy(e.Value) {
					unsetPath(c, e.Key)
				}
			}
			out = append(out, c)
			continue
		}

		c := bson.M{}
		if includeID {
			if id, ok := d["_id"]; ok {
				c["_id"] = id
			}
		}
		for _, e := range args {
			if e.Key == "_id" && isFlag(e.Value) {
				continue
			}
			if isFlag(e.Value) {
				if !truthy(e.Value) {
					return nil, fmt.Errorf("cannot do exclusion on field %s in inclusion projection", e.Key)
				}
				if v, ok := lookupPath(d, e.Key); ok {
					setPath(c, e.Key, cloneValue(v))
				}
				continue
			}
			v, present, err := evalExpr(d, e.Value)
			if err != nil {
				return nil, err
			}
			if present {
				setPath(c, e.Key, v)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// evalExpr evaluates the expression subset used in projections: field paths,
// $ifNull and literals.
func evalExpr(doc bson.M, expr any) (any, bool, error) {
	switch v := expr.(type) {
	case string:
		if strings.HasPrefix(v, "$") {
			val, ok := lookupPath(doc, v[1:])
			return val, ok, nil
		}
		return v, true, nil
	case bson.D:
		if len(v) == 1 && v[0].Key == "$ifNull" {
			args, ok := normalizeValue(v[0].Value).([]any)
			if !ok || len(args) < 2 {
				return nil, false, fmt.Errorf("$ifNull needs at least two arguments")
			}
			for _, a := range args[:len(args)-1] {
				val, present, err := evalExpr(doc, a)
				if err != nil {
					return nil, false, err
				}
				if present && val != nil {
					return val, true, nil
				}
			}
			return evalExpr(doc, args[len(args)-1])
		}
		if len(v) > 0 && strings.HasPrefix(v[0].Key, "$") {
			return nil, false, fmt.Errorf("unsupported expression %s", v[0].Key)
		}
		return normalizeValue(v), true, nil
	case nil:
		return nil, true, nil
	default:
		return normalizeValue(v), true, nil
	}
}

func stageSort(docs []bson.M, arg any) ([]bson.M, error) {
	args, err := asD(arg)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("$sort stage must have at least one sort key")
	}
	dirs := make([]int, len(args))
	for i, e := range args {
		if e.Key == "" {
			return nil, fmt.Errorf("FieldPath cannot be constructed with empty string")
		}
		n, ok := toInt64(e.Value)
		if !ok || (n != 1 && n != -1) {
			return nil, fmt.Errorf("$sort key ordering must be 1 (for ascending) or -1 (for descending)")
		}
		dirs[i] = int(n)
	}

	out := make([]bson.M, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		for k, e := range args {
			a, _ := lookupPath(out[i], e.Key)
			b, _ := lookupPath(out[j], e.Key)
			if c := compareValues(a, b); c != 0 {
				return c*dirs[k] < 0
			}
		}
		return false
	})
	return out, nil
}

func stageSkip(docs []bson.M, arg any) ([]bson.M, error) {
	n, ok := toInt64(arg)
	if !ok || n < 0 {
		return nil, fmt.Errorf("invalid argument to $skip stage: expected a non-negative number")
	}
	if n >= int64(len(docs)) {
		return []bson.M{}, nil
	}
	return docs[n:], nil
}

func stageLimit(docs []bson.M, arg any) ([]bson.M, error) {
	n, ok := toInt64(arg)
	if !ok || n <= 0 {
		return nil, fmt.Errorf("the limit must be positive")
	}
	if n < int64(len(docs)) {
		return docs[:n], nil
	}
	return docs, nil
}

func stageCount(docs []bson.M, arg any) ([]bson.M, error) {
	name, ok := arg.(string)
	if !ok || name == "" || strings.HasPrefix(name, "$") || strings.Contains(name, ".") {
		return nil, fmt.Errorf("the count field must be a non-empty string without '$' or '.'")
	}
	if len(docs) == 0 {
		return []bson.M{}, nil
	}
	return []bson.M{{name: int32(len(docs))}}, nil
}

// --- helpers ---

func asD(v any) (bson.D, error) {
	switch d := v.(type) {
	case bson.D:
		return d, nil
	case bson.M:
		out := make(bson.D, 0, len(d))
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, bson.E{Key: k, Value: d[k]})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a document, got %T", v)
	}
}

func toArray(v any) ([]any, bool) {
	switch a := v.(type) {
	case bson.A:
		return []any(a), true
	case []any:
		return a, true
	default:
		return nil, false
	}
}

// operatorDoc reports whether cond is a document of $-operators.
func operatorDoc(cond any) (bson.D, bool) {
	d, err := asD(cond)
	if err != nil || len(d) == 0 {
		return nil, false
	}
	for _, e := range d {
		if !strings.HasPrefix(e.Key, "$") {
			return nil, false
		}
	}
	return d, true
}

func isFlag(v any) bool {
	switch v.(type) {
	case bool, int, int32, int64, float64:
		return true
	default:
		return false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	default:
		if n, ok := toFloat(t); ok {
			return n != 0
		}
		return true
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func lookupPath(doc bson.M, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(bson.M)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(doc bson.M, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(bson.M)
		if !ok {
			next = bson.M{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func unsetPath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(bson.M)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

func cloneDoc(d bson.M) bson.M {
	out := make(bson.M, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return cloneDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// normalizeDoc converts driver container types into bson.M / []any so the
// evaluator only deals with one shape.
func normalizeDoc(d bson.M) bson.M {
	out := make(bson.M, len(d))
	for k, v := range d {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalizeDoc(t)
	case map[string]any:
		return normalizeDoc(bson.M(t))
	case bson.D:
		m := make(bson.M, len(t))
		for _, e := range t {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case []bson.M:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeDoc(e)
		}
		return out
	case bson.DateTime:
		return t.Time().UTC()
	case int:
		return int64(t)
	default:
		return v
	}
}
