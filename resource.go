package sheetsync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ResourceKind names the remote resource a row maps to
type ResourceKind string

const (
	KindProduct   ResourceKind = "product"
	KindVariant   ResourceKind = "variant"
	KindMetafield ResourceKind = "metafield"
	KindImage     ResourceKind = "image"
)

// Operation is what a queue item asks the remote to do
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	// OpMixed resolves per row: update when the row has an id, create otherwise.
	OpMixed Operation = "mixed"
)

// Valid reports whether op is a known operation
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpMixed:
		return true
	}
	return false
}

// CallDescriptor is a fully resolved remote call
type CallDescriptor struct {
	Kind      ResourceKind
	Operation Operation
	Method    string
	Endpoint  string
	Envelope  string                 // JSON root key of the payload
	Payload   map[string]interface{} // nil for deletes
	RowKey    int
}

// Response is what a Dispatcher returns for a 2xx call
type Response struct {
	StatusCode int
	RemoteID   string
	Body       map[string]interface{}
}

// Readiness is the remote's state before a run starts
type Readiness struct {
	Connected  bool
	Authorized bool
	QuotaUsed  int
	QuotaLimit int // 0 when the remote does not report a limit
}

// QuotaRemaining returns the calls left, or -1 when unknown
func (r *Readiness) QuotaRemaining() int {
	if r.QuotaLimit <= 0 {
		return -1
	}
	return r.QuotaLimit - r.QuotaUsed
}

// Dispatcher sends calls to the remote catalog. Errors must make rate
// limiting and auth/validation failures distinguishable, either through
// *RemoteError status codes or the Err* sentinels (see Classify).
type Dispatcher interface {
	Dispatch(ctx context.Context, call *CallDescriptor) (*Response, error)
	Readiness(ctx context.Context) (*Readiness, error)
}

// resourceSpec is one row of the dispatch table. Path templates expand
// {column} placeholders from the row.
type resourceSpec struct {
	envelope string
	fields   []string
	create   string
	update   string
	delete   string
	vars     func(r *Record) (map[string]string, error)
}

var resourceSpecs = map[ResourceKind]resourceSpec{
	KindProduct: {
		envelope: "product",
		fields: []string{"title", "body_html", "vendor", "product_type", "handle",
			"tags", "status", "published_scope", "template_suffix"},
		create: "/products.json",
		update: "/products/{id}.json",
		delete: "/products/{id}.json",
	},
	KindVariant: {
		envelope: "variant",
		fields: []string{"title", "price", "compare_at_price", "sku", "barcode",
			"position", "option1", "option2", "option3", "taxable", "weight",
			"weight_unit", "inventory_policy", "fulfillment_service", "requires_shipping"},
		create: "/products/{product_id}/variants.json",
		update: "/variants/{id}.json",
		delete: "/products/{product_id}/variants/{id}.json",
	},
	KindImage: {
		envelope: "image",
		fields:   []string{"src", "alt", "position", "filename", "variant_ids"},
		create:   "/products/{product_id}/images.json",
		update:   "/products/{product_id}/images/{id}.json",
		delete:   "/products/{product_id}/images/{id}.json",
	},
	KindMetafield: {
		envelope: "metafield",
		fields:   []string{"namespace", "key", "value", "type", "description"},
		create:   "/{owner_resource}/{owner_id}/metafields.json",
		update:   "/{owner_resource}/{owner_id}/metafields/{id}.json",
		delete:   "/{owner_resource}/{owner_id}/metafields/{id}.json",
		vars:     metafieldOwner,
	},
}

// metafieldOwner requires the owner to be named explicitly; a product
// metafield and a variant metafield look the same otherwise.
func metafieldOwner(r *Record) (map[string]string, error) {
	owner := strings.ToLower(strings.TrimSpace(r.GetAsString("owner_resource", "")))
	switch owner {
	case "product", "products":
		owner = "products"
	case "variant", "variants":
		owner = "variants"
	case "":
		return nil, fmt.Errorf("%w: metafield row %d needs owner_resource", ErrAmbiguousKind, r.Key)
	default:
		return nil, fmt.Errorf("%w: unsupported metafield owner %q", ErrValidation, owner)
	}
	return map[string]string{"owner_resource": owner}, nil
}

// KnownKind reports whether the dispatch table has an entry for k
func KnownKind(k ResourceKind) bool {
	_, ok := resourceSpecs[k]
	return ok
}

// ResourceFields returns the payload allow-list for k
func ResourceFields(k ResourceKind) []string {
	spec, ok := resourceSpecs[k]
	if !ok {
		return nil
	}
	out := make([]string, len(spec.fields))
	copy(out, spec.fields)
	return out
}

// ResolveOperation turns OpMixed into create or update for r
func ResolveOperation(op Operation, r *Record) Operation {
	if op != OpMixed {
		return op
	}
	if r.ID() != "" {
		return OpUpdate
	}
	return OpCreate
}

// BuildCall resolves the call for r. The row's _kind column wins over
// defaultKind; with neither, the call is rejected as ambiguous.
func BuildCall(r *Record, op Operation, defaultKind ResourceKind) (*CallDescriptor, error) {
	kind := r.Kind()
	if kind == "" {
		kind = defaultKind
	}
	if kind == "" {
		return nil, fmt.Errorf("%w: row %d has no %s and no default kind is set", ErrAmbiguousKind, r.Key, ColumnKind)
	}
	spec, ok := resourceSpecs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown resource kind %q", ErrValidation, kind)
	}

	op = ResolveOperation(op, r)
	vars := map[string]string{}
	if spec.vars != nil {
		extra, err := spec.vars(r)
		if err != nil {
			return nil, err
		}
		vars = extra
	}

	call := &CallDescriptor{Kind: kind, Operation: op, Envelope: spec.envelope, RowKey: r.Key}
	var template string
	switch op {
	case OpCreate:
		call.Method = http.MethodPost
		template = spec.create
	case OpUpdate:
		call.Method = http.MethodPut
		template = spec.update
	case OpDelete:
		call.Method = http.MethodDelete
		template = spec.delete
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrValidation, op)
	}
	if (op == OpUpdate || op == OpDelete) && r.ID() == "" {
		return nil, fmt.Errorf("%w: row %d has no %s for %s", ErrValidation, r.Key, ColumnID, op)
	}

	endpoint, err := expandPath(template, r, vars)
	if err != nil {
		return nil, err
	}
	call.Endpoint = endpoint

	if op != OpDelete {
		call.Payload = buildPayload(r, spec.fields, op)
	}
	return call, nil
}

func buildPayload(r *Record, fields []string, op Operation) map[string]interface{} {
	payload := make(map[string]interface{}, len(fields)+1)
	for _, f := range fields {
		v, ok := r.Values[f]
		if !ok {
			continue
		}
		if _, present := normalizeValue(v); !present && op == OpCreate {
			continue
		}
		payload[f] = v
	}
	if op == OpUpdate {
		payload[ColumnID] = r.Values[ColumnID]
	}
	return payload
}

func expandPath(template string, r *Record, vars map[string]string) (string, error) {
	var b strings.Builder
	for {
		start := strings.IndexByte(template, '{')
		if start < 0 {
			b.WriteString(template)
			return b.String(), nil
		}
		end := strings.IndexByte(template[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("malformed endpoint template %q", template)
		}
		name := template[start+1 : start+end]
		value, ok := vars[name]
		if !ok {
			value = strings.TrimSpace(r.GetAsString(name, ""))
		}
		if value == "" {
			return "", fmt.Errorf("%w: row %d is missing %q", ErrValidation, r.Key, name)
		}
		b.WriteString(template[:start])
		b.WriteString(url.PathEscape(value))
		template = template[start+end+1:]
	}
}
