// Package uriresolver implements the URI resolver (§4.10): parsing
// saiverse://... addresses and resolving them to read-through content,
// enforcing that persona-scoped resources are only ever readable by their
// own persona. Grounded on original_source/saiverse/uri_resolver.py.
package uriresolver

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/saiverse/memoryweave/internal/chronicle"
	"github.com/saiverse/memoryweave/internal/memopedia"
	"github.com/saiverse/memoryweave/internal/recall"
	"github.com/saiverse/memoryweave/internal/store"
)

const uriPrefix = "saiverse://"

// globalSchemes are resource types that are not persona-scoped. This engine
// only stores conversational memory (messages, Chronicle, Memopedia); the
// entity stores these schemes would otherwise read from (items, buildings,
// personas-as-NPCs, arbitrary web/image/document blobs) belong to a
// different system and are not modeled here.
var globalSchemes = map[string]bool{
	"image": true, "document": true, "item": true,
	"persona": true, "building": true, "web": true,
}

var personaResourceTypes = map[string]bool{
	"messagelog": true, "memopedia": true, "chronicle": true,
}

// URI is a parsed saiverse:// address.
type URI struct {
	Raw         string
	Scheme      string
	PersonaID   string
	City        string
	PersonaName string
	PathParts   []string
	Params      map[string]string
}

func (u *URI) IsPersonaScoped() bool {
	return personaResourceTypes[u.Scheme]
}

// personaIDToCityName splits a persona id of the form {name}_{city} back
// into its parts. A city segment literally named "city_X" is preferred;
// otherwise the last underscore is the split point.
func personaIDToCityName(personaID string) (city, name string) {
	if idx := strings.Index(personaID, "_city_"); idx >= 0 {
		return personaID[idx+1:], personaID[:idx]
	}
	if idx := strings.LastIndex(personaID, "_"); idx > 0 {
		return personaID[idx+1:], personaID[:idx]
	}
	return "", personaID
}

func cityNameToPersonaID(city, personaName string) string {
	return personaName + "_" + city
}

// Parse parses a saiverse:// URI. contextPersonaID resolves a "self" host;
// it may be empty if the URI is not self-scoped.
func Parse(uri string, contextPersonaID string) (*URI, error) {
	if !strings.HasPrefix(uri, uriPrefix) {
		return nil, fmt.Errorf("invalid saiverse URI (must start with %s): %s", uriPrefix, uri)
	}
	body := uri[len(uriPrefix):]

	params := map[string]string{}
	if idx := strings.Index(body, "?"); idx >= 0 {
		query := body[idx+1:]
		body = body[:idx]
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, fmt.Errorf("invalid query in URI %s: %w", uri, err)
		}
		for k, v := range values {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
	}

	var parts []string
	for _, p := range strings.Split(body, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty URI path: %s", uri)
	}

	first := parts[0]

	if first == "self" {
		if contextPersonaID == "" {
			return nil, fmt.Errorf("cannot resolve 'self' URI without a caller persona id: %s", uri)
		}
		if len(parts) < 2 {
			return nil, fmt.Errorf("missing resource type after 'self': %s", uri)
		}
		city, name := personaIDToCityName(contextPersonaID)
		return &URI{
			Raw: uri, Scheme: parts[1], PersonaID: contextPersonaID,
			City: city, PersonaName: name, PathParts: parts[2:], Params: params,
		}, nil
	}

	if globalSchemes[first] {
		return &URI{Raw: uri, Scheme: first, PathParts: parts[1:], Params: params}, nil
	}

	if len(parts) >= 3 && personaResourceTypes[parts[2]] {
		city, personaName := parts[0], parts[1]
		return &URI{
			Raw: uri, Scheme: parts[2], PersonaID: cityNameToPersonaID(city, personaName),
			City: city, PersonaName: personaName, PathParts: parts[3:], Params: params,
		}, nil
	}

	return &URI{Raw: uri, Scheme: first, PathParts: parts[1:], Params: params}, nil
}

// Resolved is a single resolved URI's content.
type Resolved struct {
	URI         string
	Content     string
	ContentType string
	CharCount   int
	Metadata    map[string]any
}

func resolved(uri, content, contentType string, metadata map[string]any) Resolved {
	return Resolved{URI: uri, Content: content, ContentType: contentType, CharCount: len(content), Metadata: metadata}
}

func errorResult(uri, reason string, metadata map[string]any) Resolved {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["error"] = reason
	return resolved(uri, fmt.Sprintf("(resolution error: %s)", reason), "error", metadata)
}

// Resolver resolves URIs against one persona's stores. Cross-persona access
// is categorically denied: this process only ever holds the calling
// persona's own store.
type Resolver struct {
	personaID string
	store     store.Storer
	recall    *recall.Engine
	memopedia *memopedia.Engine
	assembler *chronicle.Assembler
}

func NewResolver(personaID string, s store.Storer, recallEngine *recall.Engine, memopediaEngine *memopedia.Engine, assembler *chronicle.Assembler) *Resolver {
	return &Resolver{personaID: personaID, store: s, recall: recallEngine, memopedia: memopediaEngine, assembler: assembler}
}

// Resolve resolves a single URI, enforcing persona-scoped access control.
func (r *Resolver) Resolve(uri string) Resolved {
	parsed, err := Parse(uri, r.personaID)
	if err != nil {
		return errorResult(uri, err.Error(), nil)
	}

	if parsed.IsPersonaScoped() && parsed.PersonaID != r.personaID {
		return errorResult(uri, "access_denied", map[string]any{
			"target_persona": parsed.PersonaID,
		})
	}

	switch parsed.Scheme {
	case "messagelog":
		return r.resolveMessagelog(parsed)
	case "memopedia":
		return r.resolveMemopedia(parsed)
	case "chronicle":
		return r.resolveChronicle(parsed)
	default:
		if globalSchemes[parsed.Scheme] {
			return errorResult(uri, "unsupported: "+parsed.Scheme+" is not modeled by this engine", nil)
		}
		return errorResult(uri, "unknown scheme: "+parsed.Scheme, nil)
	}
}

// Priority selects how resolve_many trims results to fit a character budget.
type Priority string

const (
	PriorityFirst    Priority = "first"
	PriorityBalanced Priority = "balanced"
)

// ResolveMany resolves every uri and trims to maxTotalChars.
func (r *Resolver) ResolveMany(uris []string, maxTotalChars int, priority Priority) []Resolved {
	results := make([]Resolved, len(uris))
	for i, u := range uris {
		results[i] = r.Resolve(u)
	}
	return r.trim(results, maxTotalChars, priority)
}

// trim applies resolve_many's budget policy to an already-resolved slice.
func (r *Resolver) trim(results []Resolved, maxTotalChars int, priority Priority) []Resolved {
	total := 0
	for _, res := range results {
		total += res.CharCount
	}
	if total <= maxTotalChars {
		return results
	}

	if priority == PriorityBalanced {
		perItem := maxTotalChars
		if len(results) > 0 {
			perItem = maxTotalChars / len(results)
		}
		for i := range results {
			if results[i].CharCount > perItem {
				results[i].Content = truncate(results[i].Content, perItem)
				results[i].CharCount = len(results[i].Content)
			}
		}
		return results
	}

	remaining := maxTotalChars
	for i := range results {
		switch {
		case remaining <= 0:
			results[i].Content = "(skipped due to char limit)"
			results[i].CharCount = len(results[i].Content)
		case results[i].CharCount > remaining:
			results[i].Content = truncate(results[i].Content, remaining)
			results[i].CharCount = len(results[i].Content)
			remaining = 0
		default:
			remaining -= results[i].CharCount
		}
	}
	return results
}

func truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}

func intParam(params map[string]string, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func formatMessages(msgs []*store.Message) string {
	if len(msgs) == 0 {
		return "(no messages)"
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%d] %s: %s\n", m.CreatedAt, m.Role, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Resolver) resolveMessagelog(u *URI) Resolved {
	path, params := u.PathParts, u.Params

	switch {
	case len(path) >= 2 && path[0] == "msg" && path[1] == "recent":
		depth := intParam(params, "depth", 5)
		msgs, err := r.store.ListAllMessagesChronological()
		if err != nil {
			return errorResult(u.Raw, err.Error(), nil)
		}
		if len(msgs) > depth {
			msgs = msgs[len(msgs)-depth:]
		}
		return resolved(u.Raw, formatMessages(msgs), "message_log", map[string]any{"depth": depth, "count": len(msgs)})

	case len(path) >= 2 && path[0] == "msg":
		messageID := path[1]
		window := intParam(params, "window", 0)
		msg, err := r.store.GetMessage(messageID)
		if err != nil {
			return errorResult(u.Raw, "message not found: "+messageID, nil)
		}
		if window <= 0 {
			return resolved(u.Raw, formatMessages([]*store.Message{msg}), "message", map[string]any{"message_id": messageID})
		}
		surrounding, err := r.recall.MessagesAround(msg, window, window)
		if err != nil {
			return errorResult(u.Raw, err.Error(), nil)
		}
		return resolved(u.Raw, formatMessages(surrounding), "message_log", map[string]any{"message_id": messageID, "window": window})

	case len(path) >= 2 && path[0] == "thread":
		threadID := u.PersonaID + ":" + path[1]
		lastN := intParam(params, "last", 20)
		count, err := r.store.CountThreadMessages(threadID)
		if err != nil {
			return errorResult(u.Raw, err.Error(), nil)
		}
		offset := count - lastN
		if offset < 0 {
			offset = 0
		}
		msgs, err := r.store.ListThreadMessages(threadID, offset, lastN)
		if err != nil {
			return errorResult(u.Raw, err.Error(), nil)
		}
		return resolved(u.Raw, formatMessages(msgs), "message_log", map[string]any{"thread_id": threadID, "count": len(msgs)})

	case (len(path) == 0 || path[0] == "range") && params["from"] != "":
		from := int64(intParam(params, "from", 0))
		to := int64(intParam(params, "to", 9999999999))
		all, err := r.store.ListAllMessagesChronological()
		if err != nil {
			return errorResult(u.Raw, err.Error(), nil)
		}
		var inRange []*store.Message
		for _, m := range all {
			if m.CreatedAt >= from && m.CreatedAt <= to {
				inRange = append(inRange, m)
			}
		}
		return resolved(u.Raw, formatMessages(inRange), "message_log", map[string]any{"from": from, "to": to, "count": len(inRange)})
	}

	return errorResult(u.Raw, "unknown messagelog path: "+strings.Join(path, "/"), nil)
}

func formatMemopediaPage(p *store.MemopediaPage) string {
	return fmt.Sprintf("# %s\n\n%s\n\n%s", p.Title, p.Summary, p.Content)
}

func (r *Resolver) resolveMemopedia(u *URI) Resolved {
	path, params := u.PathParts, u.Params

	if len(path) >= 1 && path[0] == "tree" {
		content, err := r.memopedia.GetTreeMarkdown(true, true)
		if err != nil {
			return errorResult(u.Raw, err.Error(), nil)
		}
		return resolved(u.Raw, content, "memopedia_tree", nil)
	}

	if len(path) >= 1 && path[0] == "page" {
		var page *store.MemopediaPage
		var err error
		switch {
		case len(path) >= 2:
			page, err = r.store.GetMemopediaPage(path[1])
		case params["title"] != "":
			page, err = r.memopedia.FindByTitle(params["title"], "")
		default:
			return errorResult(u.Raw, "memopedia page requires an id or ?title=", nil)
		}
		if err != nil || page == nil {
			return errorResult(u.Raw, "memopedia page not found", nil)
		}
		return resolved(u.Raw, formatMemopediaPage(page), "memopedia_page", map[string]any{
			"page_id": page.ID, "title": page.Title, "category": string(page.Category),
		})
	}

	return errorResult(u.Raw, "unknown memopedia path: "+strings.Join(path, "/"), nil)
}

func formatChronicleEntry(e *store.ChronicleEntry) string {
	return fmt.Sprintf("[level %d, %d-%d] %s", e.Level, e.StartTime, e.EndTime, e.Content)
}

func (r *Resolver) resolveChronicle(u *URI) Resolved {
	path, params := u.PathParts, u.Params

	switch {
	case len(path) >= 2 && path[0] == "entry":
		entry, err := r.store.GetChronicleEntry(path[1])
		if err != nil {
			return errorResult(u.Raw, "chronicle entry not found: "+path[1], nil)
		}
		return resolved(u.Raw, formatChronicleEntry(entry), "chronicle_entry", map[string]any{"entry_id": entry.ID, "level": entry.Level})

	case len(path) >= 1 && path[0] == "entry" && params["contain"] != "":
		entries, err := r.searchChronicleEntries(params["contain"], 1)
		if err != nil {
			return errorResult(u.Raw, err.Error(), nil)
		}
		if len(entries) == 0 {
			return errorResult(u.Raw, "no chronicle entry containing: "+params["contain"], nil)
		}
		return resolved(u.Raw, formatChronicleEntry(entries[0]), "chronicle_entry", map[string]any{"entry_id": entries[0].ID})

	case len(path) >= 1 && path[0] == "recent":
		depth := intParam(params, "depth", 5)
		entries, err := r.assembler.GetEpisodeContext(depth)
		if err != nil {
			return errorResult(u.Raw, err.Error(), nil)
		}
		return resolved(u.Raw, chronicle.FormatEpisodeContext(entries), "chronicle_entry", map[string]any{"count": len(entries)})

	case len(path) >= 1 && path[0] == "range" && params["from"] != "":
		from := int64(intParam(params, "from", 0))
		to := int64(intParam(params, "to", 9999999999))
		entries, err := r.assembler.GetEpisodeContextForTimerange(to, 0)
		if err != nil {
			return errorResult(u.Raw, err.Error(), nil)
		}
		var inRange []chronicle.ContextEntry
		for _, e := range entries {
			if e.StartTime >= from {
				inRange = append(inRange, e)
			}
		}
		return resolved(u.Raw, chronicle.FormatEpisodeContext(inRange), "chronicle_entry", map[string]any{"from": from, "to": to, "count": len(inRange)})
	}

	return errorResult(u.Raw, "unknown chronicle path: "+strings.Join(path, "/"), nil)
}

// searchChronicleEntries is a simple case-insensitive substring scan over
// all entries, newest first. The hierarchy is small enough per persona that
// a dedicated index is not warranted.
func (r *Resolver) searchChronicleEntries(query string, limit int) ([]*store.ChronicleEntry, error) {
	all, err := r.store.ListAllEntriesSortedByEndTimeDesc()
	if err != nil {
		return nil, err
	}
	lowerQuery := strings.ToLower(query)
	var matches []*store.ChronicleEntry
	for _, e := range all {
		if strings.Contains(strings.ToLower(e.Content), lowerQuery) {
			matches = append(matches, e)
			if limit > 0 && len(matches) >= limit {
				break
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].EndTime > matches[j].EndTime })
	return matches, nil
}
