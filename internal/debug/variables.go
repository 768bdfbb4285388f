package debug

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dshills/debugengine/internal/debug/dap"
)

// Reference addresses an expandable node. Handles are only meaningful for
// the session and stop generation that issued them.
type Reference struct {
	SessionID  string
	Generation uint64
	Handle     int
}

// ExpressionNode is a scope, variable or evaluation result.
type ExpressionNode struct {
	// Key identifies the node within its generation: "scope:<frame>:<name>",
	// "var:<parent>:<name>" or "expr:<expression>".
	Key string

	Name         string
	Value        string
	Type         string
	EvaluateName string

	// Reference is non-zero when the node has children.
	Reference Reference

	NamedChildren   int
	IndexedChildren int

	// Expensive is set on scopes the adapter marks as costly to expand.
	Expensive bool

	// Err is set when evaluating or fetching the node failed. The failure is
	// confined to this node.
	Err error
}

// HasChildren reports whether the node can be expanded.
func (n *ExpressionNode) HasChildren() bool {
	return n.Reference.Handle > 0
}

// childKey identifies one memoized variables request.
type childKey struct {
	handle int
	start  int
	count  int
}

// VariableCache lazily resolves variable trees for one session. Every
// entry belongs to a stop generation; Invalidate starts a new generation
// and drops everything cached before it.
type VariableCache struct {
	sessionID string
	client    *dap.Client

	mu         sync.Mutex
	generation uint64
	scopes     map[int][]*ExpressionNode
	children   map[childKey][]*ExpressionNode

	watches      []string
	watchResults []*ExpressionNode
}

// NewVariableCache creates a cache for sessionID backed by client.
func NewVariableCache(sessionID string, client *dap.Client) *VariableCache {
	return &VariableCache{
		sessionID:  sessionID,
		client:     client,
		generation: 1,
		scopes:     make(map[int][]*ExpressionNode),
		children:   make(map[childKey][]*ExpressionNode),
	}
}

// Generation returns the current stop generation.
func (c *VariableCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Invalidate discards every cached node and starts a new generation.
func (c *VariableCache) Invalidate() {
	c.mu.Lock()
	c.generation++
	c.scopes = make(map[int][]*ExpressionNode)
	c.children = make(map[childKey][]*ExpressionNode)
	c.watchResults = nil
	c.mu.Unlock()
}

func (c *VariableCache) ref(gen uint64, handle int) Reference {
	if handle <= 0 {
		return Reference{}
	}
	return Reference{SessionID: c.sessionID, Generation: gen, Handle: handle}
}

// check fails closed for references from another session or generation.
func (c *VariableCache) check(ref Reference) error {
	if ref.SessionID != c.sessionID || ref.Handle <= 0 {
		return fmt.Errorf("%w: reference %d does not belong to session %s", ErrStaleReference, ref.Handle, c.sessionID)
	}
	if ref.Generation != c.generation {
		return fmt.Errorf("%w: reference %d from generation %d, current is %d",
			ErrStaleReference, ref.Handle, ref.Generation, c.generation)
	}
	return nil
}

// Scopes returns the scopes of a stack frame.
func (c *VariableCache) Scopes(ctx context.Context, frameID int) ([]*ExpressionNode, error) {
	c.mu.Lock()
	gen := c.generation
	if cached, ok := c.scopes[frameID]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	scopes, err := c.client.Scopes(ctx, dap.ScopesArguments{FrameID: frameID})
	if err != nil {
		return nil, err
	}

	nodes := make([]*ExpressionNode, len(scopes))
	for i, s := range scopes {
		nodes[i] = &ExpressionNode{
			Key:             "scope:" + strconv.Itoa(frameID) + ":" + s.Name,
			Name:            s.Name,
			Reference:       c.ref(gen, s.VariablesReference),
			NamedChildren:   s.NamedVariables,
			IndexedChildren: s.IndexedVariables,
			Expensive:       s.Expensive,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return nil, fmt.Errorf("%w: session moved on while fetching scopes", ErrStaleReference)
	}
	c.scopes[frameID] = nodes
	return nodes, nil
}

// Children returns every child of ref.
func (c *VariableCache) Children(ctx context.Context, ref Reference) ([]*ExpressionNode, error) {
	return c.ChildrenPage(ctx, ref, 0, 0)
}

// ChildrenPage returns count children of ref starting at start. A zero
// count requests all remaining children.
func (c *VariableCache) ChildrenPage(ctx context.Context, ref Reference, start, count int) ([]*ExpressionNode, error) {
	key := childKey{handle: ref.Handle, start: start, count: count}

	c.mu.Lock()
	if err := c.check(ref); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if cached, ok := c.children[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	vars, err := c.client.Variables(ctx, dap.VariablesArguments{
		VariablesReference: ref.Handle,
		Start:              start,
		Count:              count,
	})
	if err != nil {
		return nil, err
	}

	parent := strconv.Itoa(ref.Handle)
	nodes := make([]*ExpressionNode, len(vars))
	for i, v := range vars {
		nodes[i] = &ExpressionNode{
			Key:             "var:" + parent + ":" + v.Name,
			Name:            v.Name,
			Value:           v.Value,
			Type:            v.Type,
			EvaluateName:    v.EvaluateName,
			Reference:       c.ref(ref.Generation, v.VariablesReference),
			NamedChildren:   v.NamedVariables,
			IndexedChildren: v.IndexedVariables,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ref); err != nil {
		return nil, err
	}
	c.children[key] = nodes
	return nodes, nil
}

// Evaluate evaluates expression in frameID. The returned node is a root
// whose children follow the same lazy expansion as variables.
func (c *VariableCache) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*ExpressionNode, error) {
	gen := c.Generation()
	body, err := c.client.Evaluate(ctx, dap.EvaluateArguments{
		Expression: expression,
		FrameID:    frameID,
		Context:    evalContext,
	})
	if err != nil {
		return nil, err
	}
	return &ExpressionNode{
		Key:             "expr:" + expression,
		Name:            expression,
		Value:           body.Result,
		Type:            body.Type,
		EvaluateName:    expression,
		Reference:       c.ref(gen, body.VariablesReference),
		NamedChildren:   body.NamedVariables,
		IndexedChildren: body.IndexedVariables,
	}, nil
}

// SetVariable assigns value to the child name of parent and drops the
// memoized children of parent.
func (c *VariableCache) SetVariable(ctx context.Context, parent Reference, name, value string) (*ExpressionNode, error) {
	c.mu.Lock()
	err := c.check(parent)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	body, err := c.client.SetVariable(ctx, dap.SetVariableArguments{
		VariablesReference: parent.Handle,
		Name:               name,
		Value:              value,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for k := range c.children {
		if k.handle == parent.Handle {
			delete(c.children, k)
		}
	}
	c.mu.Unlock()

	return &ExpressionNode{
		Key:       "var:" + strconv.Itoa(parent.Handle) + ":" + name,
		Name:      name,
		Value:     body.Value,
		Type:      body.Type,
		Reference: c.ref(parent.Generation, body.VariablesReference),
	}, nil
}

// AddWatch appends a watch expression.
func (c *VariableCache) AddWatch(expression string) {
	c.mu.Lock()
	c.watches = append(c.watches, expression)
	c.watchResults = nil
	c.mu.Unlock()
}

// RemoveWatch removes the watch at index.
func (c *VariableCache) RemoveWatch(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.watches) {
		return fmt.Errorf("watch index %d out of range", index)
	}
	c.watches = append(c.watches[:index], c.watches[index+1:]...)
	c.watchResults = nil
	return nil
}

// Watches returns the watch expressions.
func (c *VariableCache) Watches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.watches...)
}

// WatchResults returns the results of the last RefreshWatches in this
// generation, or nil.
func (c *VariableCache) WatchResults() []*ExpressionNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ExpressionNode(nil), c.watchResults...)
}

// RefreshWatches evaluates every watch expression in frameID. A failed
// expression yields a node with Err set; the others are unaffected.
func (c *VariableCache) RefreshWatches(ctx context.Context, frameID int) []*ExpressionNode {
	exprs := c.Watches()
	gen := c.Generation()

	results := make([]*ExpressionNode, len(exprs))
	for i, expr := range exprs {
		node, err := c.Evaluate(ctx, expr, frameID, dap.ContextWatch)
		if err != nil {
			node = &ExpressionNode{Key: "expr:" + expr, Name: expr, Err: err}
			if errors.Is(err, context.Canceled) {
				results = results[:i]
				break
			}
		}
		results[i] = node
	}

	c.mu.Lock()
	if c.generation == gen {
		c.watchResults = results
	}
	c.mu.Unlock()
	return results
}
