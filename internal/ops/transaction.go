// transaction.go executes transaction and batch bundles.
//
// A transaction resolves every conditional target first, under type-level
// locks so concurrent conditionals on the same types serialise, then takes
// all row locks in one sorted acquisition and runs every entry inside a
// single store transaction. The first failing entry aborts the lot; the
// error names the entry.
//
// A batch plans entries the same way but executes each through the store's
// one-shot operations, so entries commit independently and a failure turns
// into that entry's response rather than anybody else's problem.

package ops

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/store"
)

// Process executes a transaction or batch bundle and returns the response
// bundle. Any other bundle type is rejected.
func (p *Processor) Process(ctx context.Context, b *fhir.Bundle) (*fhir.Bundle, error) {
	switch b.Type {
	case fhir.BundleTypeTransaction:
		return p.transaction(ctx, b)
	case fhir.BundleTypeBatch:
		return p.batch(ctx, b)
	}
	return nil, fhir.Errorf(fhir.KindMalformed, "bundle type %q cannot be processed", b.Type)
}

func (p *Processor) transaction(ctx context.Context, b *fhir.Bundle) (*fhir.Bundle, error) {
	plans, err := p.plan(b)
	if err != nil {
		return nil, err
	}

	release, err := p.st.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	urns := assignIDs(plans)

	// Conditional criteria resolve against the serialised current state:
	// the type locks keep other conditional writers out, and the row locks
	// below keep direct writers off the chosen targets.
	if types := conditionalTypes(plans); len(types) > 0 {
		unlock := p.st.Guard(types...)
		defer unlock()
	}
	if err := p.resolveConditionals(ctx, plans, urns); err != nil {
		return nil, err
	}
	if err := checkDuplicateTargets(plans); err != nil {
		return nil, err
	}
	if len(urns) > 0 {
		for _, pl := range plans {
			if pl.res != nil {
				rewriteRefs(map[string]any(pl.res), urns)
			}
		}
	}

	unlock := p.st.Guard(lockKeys(plans)...)
	defer unlock()

	results := make([]*entryResult, len(plans))
	err = p.st.Tx(ctx, func(tx *sql.Tx) error {
		for _, pl := range ordered(plans) {
			r, execErr := p.execInTx(ctx, tx, pl)
			if execErr != nil {
				return entryErr(pl.idx, execErr)
			}
			results[pl.idx] = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Writes are reported only now, after commit; a rolled-back bundle
	// must never surface as change events.
	for _, r := range results {
		p.notify(r)
	}
	return p.responseBundle(fhir.BundleTypeTransactionResponse, results), nil
}

func (p *Processor) notify(r *entryResult) {
	if p.opts.Notify != nil && r.change != nil {
		p.opts.Notify(*r.change)
	}
}

func (p *Processor) batch(ctx context.Context, b *fhir.Bundle) (*fhir.Bundle, error) {
	if len(b.Entry) == 0 {
		return nil, fhir.Errorf(fhir.KindMalformed, "bundle has no entries")
	}

	// Batch entries are independent interactions; a bad one fails alone.
	// URN references are not rewritten: there is no atomic scope for a
	// placeholder to resolve inside.
	results := make([]*entryResult, len(b.Entry))
	var plans []*entryPlan
	for i := range b.Entry {
		pl, err := p.planEntry(i, &b.Entry[i])
		if err != nil {
			results[i] = errorResult(err)
			continue
		}
		plans = append(plans, pl)
	}

	for _, pl := range ordered(plans) {
		r, err := p.execOne(ctx, pl)
		if err != nil {
			results[pl.idx] = errorResult(err)
			continue
		}
		results[pl.idx] = r
		p.notify(r)
	}
	return p.responseBundle(fhir.BundleTypeBatchResponse, results), nil
}

// resolveConditionals turns criteria-addressed entries into concrete
// targets. Runs under the type-level locks, before row locks are taken.
func (p *Processor) resolveConditionals(ctx context.Context, plans []*entryPlan, urns map[string]string) error {
	for _, pl := range plans {
		var err error
		switch {
		case pl.action == actCreate && pl.ifNoneExist != "":
			err = p.resolveCreate(ctx, pl, urns)
		case pl.action == actUpdate && pl.id == "" && pl.query != "":
			err = p.resolveUpdate(ctx, pl, urns)
		case pl.action == actDelete && pl.id == "" && pl.query != "":
			err = p.resolveDelete(ctx, pl)
		}
		if err != nil {
			return entryErr(pl.idx, err)
		}
	}
	return nil
}

func (p *Processor) resolveCreate(ctx context.Context, pl *entryPlan, urns map[string]string) error {
	ids, err := p.eng.ResolveIDs(ctx, pl.typ, pl.ifNoneExist, 2)
	if err != nil {
		return err
	}
	switch len(ids) {
	case 0:
		return nil
	case 1:
		// The entry becomes a no-op returning the existing resource, and
		// references to its URN follow the existing id.
		pl.matched = true
		pl.id = ids[0]
		if pl.urn != "" {
			urns[pl.urn] = pl.typ + "/" + pl.id
		}
		return nil
	}
	return fhir.Errorf(fhir.KindConflict, "If-None-Exist criteria match multiple %s resources", pl.typ)
}

func (p *Processor) resolveUpdate(ctx context.Context, pl *entryPlan, urns map[string]string) error {
	ids, err := p.eng.ResolveIDs(ctx, pl.typ, pl.query, 2)
	if err != nil {
		return err
	}
	switch len(ids) {
	case 0:
		if pl.patchDoc != nil {
			return fhir.Errorf(fhir.KindNotFound, "no %s matches the criteria", pl.typ)
		}
		pl.id = pl.res.ID()
		if pl.id == "" {
			pl.id = store.NewID()
		}
		pl.allowCreate = true
	case 1:
		pl.id = ids[0]
		if pl.res != nil {
			if rid := pl.res.ID(); rid != "" && rid != pl.id {
				return fhir.Errorf(fhir.KindMalformed, "body id %q does not match the resource the criteria selected", rid).At("id")
			}
		}
		pl.allowCreate = true
	default:
		return fhir.Errorf(fhir.KindConflict, "criteria match multiple %s resources", pl.typ)
	}
	if pl.urn != "" && pl.res != nil {
		urns[pl.urn] = pl.typ + "/" + pl.id
	}
	return nil
}

func (p *Processor) resolveDelete(ctx context.Context, pl *entryPlan) error {
	ids, err := p.eng.ResolveIDs(ctx, pl.typ, pl.query, 2)
	if err != nil {
		return err
	}
	switch len(ids) {
	case 0:
		pl.noop = true
	case 1:
		pl.id = ids[0]
	default:
		return fhir.Errorf(fhir.KindConflict, "criteria match multiple %s resources", pl.typ)
	}
	return nil
}

// checkDuplicateTargets rejects transactions where two write entries name
// the same resource; their outcome would depend on processing order.
func checkDuplicateTargets(plans []*entryPlan) error {
	seen := make(map[string]int)
	for _, pl := range plans {
		if pl.action == actRead || pl.id == "" {
			continue
		}
		key := pl.typ + "/" + pl.id
		if prev, dup := seen[key]; dup {
			return entryErr(pl.idx, fhir.Errorf(fhir.KindMalformed, "entries %d and %d both write %s", prev, pl.idx, key))
		}
		seen[key] = pl.idx
	}
	return nil
}

// execInTx executes one entry inside the shared transaction.
func (p *Processor) execInTx(ctx context.Context, tx *sql.Tx, pl *entryPlan) (*entryResult, error) {
	switch pl.action {
	case actDelete:
		if pl.noop {
			return &entryResult{status: statusLine(http.StatusNoContent)}, nil
		}
		wr, err := p.st.DeleteTx(ctx, tx, pl.typ, pl.id)
		if err != nil {
			return nil, err
		}
		return deleteResult(wr), nil

	case actCreate:
		if pl.matched {
			row, err := p.st.ReadTx(ctx, tx, pl.typ, pl.id)
			if err != nil {
				return nil, err
			}
			return p.rowResult(row), nil
		}
		wr, err := p.st.CreateTx(ctx, tx, pl.res, pl.id)
		if err != nil {
			return nil, err
		}
		return p.writeEntry(wr, true, fhir.OpCreate), nil

	case actUpdate:
		if pl.patchDoc != nil {
			wr, err := p.st.PatchTx(ctx, tx, pl.typ, pl.id, pl.patchDoc, pl.ifMatch)
			if err != nil {
				return nil, err
			}
			return p.writeEntry(wr, false, fhir.OpPatch), nil
		}
		allow := pl.allowCreate || p.st.UpdateCreates()
		wr, err := p.st.UpdateTx(ctx, tx, pl.typ, pl.id, pl.res, pl.ifMatch, allow)
		if err != nil {
			return nil, err
		}
		return p.writeEntry(wr, wr.Created, updateOp(wr)), nil

	default:
		return p.execGet(ctx, tx, pl)
	}
}

// execGet serves GET entries. Reads and vreads go through the transaction
// when there is one, so they observe this bundle's own writes; searches run
// on the shared handle and observe the state before the transaction. Either
// way a failure aborts the transaction.
func (p *Processor) execGet(ctx context.Context, tx *sql.Tx, pl *entryPlan) (*entryResult, error) {
	switch {
	case pl.isSearch:
		// The engine takes no semaphore slot of its own; inside a
		// transaction the bundle already holds one.
		if tx == nil {
			release, err := p.st.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			defer release()
		}
		return p.execSearch(ctx, pl)
	case pl.isVRead:
		var row *store.StoredResource
		var err error
		if tx != nil {
			row, err = p.st.VReadTx(ctx, tx, pl.typ, pl.id, pl.vid)
		} else {
			row, err = p.st.VRead(ctx, pl.typ, pl.id, pl.vid)
		}
		if err != nil {
			return nil, err
		}
		return p.rowResult(row), nil
	default:
		var row *store.StoredResource
		var err error
		if tx != nil {
			row, err = p.st.ReadTx(ctx, tx, pl.typ, pl.id)
		} else {
			row, err = p.st.Read(ctx, pl.typ, pl.id)
		}
		if err != nil {
			return nil, err
		}
		return p.rowResult(row), nil
	}
}

func (p *Processor) execSearch(ctx context.Context, pl *entryPlan) (*entryResult, error) {
	res, err := p.eng.Execute(ctx, pl.typ, pl.query, false)
	if err != nil {
		return nil, err
	}
	sb, err := p.Searchset(res, pl.typ, pl.query)
	if err != nil {
		return nil, err
	}
	doc, err := sb.Encode()
	if err != nil {
		return nil, err
	}
	return &entryResult{status: statusLine(http.StatusOK), doc: doc}, nil
}

// execOne executes one batch entry through the store's one-shot operations.
func (p *Processor) execOne(ctx context.Context, pl *entryPlan) (*entryResult, error) {
	switch pl.action {
	case actDelete:
		if pl.id == "" {
			if _, err := p.st.ConditionalDelete(ctx, pl.typ, pl.query, false); err != nil {
				return nil, err
			}
			return &entryResult{status: statusLine(http.StatusNoContent)}, nil
		}
		wr, err := p.st.Delete(ctx, pl.typ, pl.id)
		if err != nil {
			return nil, err
		}
		return deleteResult(wr), nil

	case actCreate:
		if pl.ifNoneExist != "" {
			wr, err := p.st.ConditionalCreate(ctx, pl.res, pl.ifNoneExist)
			if err != nil {
				return nil, err
			}
			op := fhir.OpCreate
			if wr.Noop {
				op = "" // matched an existing resource, nothing was written
			}
			return p.writeEntry(wr, wr.Created, op), nil
		}
		wr, err := p.st.Create(ctx, pl.res)
		if err != nil {
			return nil, err
		}
		return p.writeEntry(wr, true, fhir.OpCreate), nil

	case actUpdate:
		return p.batchUpdate(ctx, pl)

	default:
		return p.execGet(ctx, nil, pl)
	}
}

func (p *Processor) batchUpdate(ctx context.Context, pl *entryPlan) (*entryResult, error) {
	if pl.patchDoc != nil {
		id := pl.id
		if id == "" {
			release, err := p.st.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			ids, err := p.eng.ResolveIDs(ctx, pl.typ, pl.query, 2)
			release()
			if err != nil {
				return nil, err
			}
			switch len(ids) {
			case 0:
				return nil, fhir.Errorf(fhir.KindNotFound, "no %s matches the criteria", pl.typ)
			case 1:
				id = ids[0]
			default:
				return nil, fhir.Errorf(fhir.KindConflict, "criteria match multiple %s resources", pl.typ)
			}
		}
		wr, err := p.st.Patch(ctx, pl.typ, id, pl.patchDoc, pl.ifMatch)
		if err != nil {
			return nil, err
		}
		return p.writeEntry(wr, false, fhir.OpPatch), nil
	}

	if pl.id == "" {
		wr, err := p.st.ConditionalUpdate(ctx, pl.typ, pl.query, pl.res, pl.ifMatch)
		if err != nil {
			return nil, err
		}
		return p.writeEntry(wr, wr.Created, updateOp(wr)), nil
	}
	wr, err := p.st.Update(ctx, pl.typ, pl.id, pl.res, pl.ifMatch)
	if err != nil {
		return nil, err
	}
	return p.writeEntry(wr, wr.Created, updateOp(wr)), nil
}

// entryResult is one entry of the response bundle before assembly.
type entryResult struct {
	status  string
	loc     string
	etag    string
	lastMod string
	fullURL string
	doc     []byte
	outcome []byte
	change  *Change // set when the entry committed a write
}

// writeEntry builds a write entry's response. An empty op means the entry
// wrote nothing (If-None-Exist matched an existing resource) and no change
// is reported.
func (p *Processor) writeEntry(wr *store.WriteResult, created bool, op fhir.Op) *entryResult {
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	r := &entryResult{
		status:  statusLine(status),
		loc:     fmt.Sprintf("%s/%s/%s/_history/%d", p.base, wr.Type, wr.ID, wr.VersionID),
		etag:    fhir.ETag(strconv.FormatInt(wr.VersionID, 10)),
		lastMod: fhir.FormatInstant(wr.LastUpdated),
		fullURL: p.base + "/" + wr.Type + "/" + wr.ID,
	}
	if wr.Resource != nil {
		r.doc, _ = wr.Resource.Encode()
	}
	if op != "" {
		r.change = &Change{Type: wr.Type, ID: wr.ID, VersionID: wr.VersionID, Op: op}
	}
	return r
}

// updateOp names the interaction an upsert actually performed.
func updateOp(wr *store.WriteResult) fhir.Op {
	if wr.Created {
		return fhir.OpCreate
	}
	return fhir.OpUpdate
}

func (p *Processor) rowResult(row *store.StoredResource) *entryResult {
	return &entryResult{
		status:  statusLine(http.StatusOK),
		etag:    row.ETag(),
		lastMod: fhir.FormatInstant(row.Time()),
		fullURL: p.base + "/" + row.Type + "/" + row.ID,
		doc:     row.Doc,
	}
}

func deleteResult(wr *store.WriteResult) *entryResult {
	r := &entryResult{
		status: statusLine(http.StatusNoContent),
		etag:   fhir.ETag(strconv.FormatInt(wr.VersionID, 10)),
	}
	if !wr.Noop {
		r.change = &Change{Type: wr.Type, ID: wr.ID, VersionID: wr.VersionID, Op: fhir.OpDelete}
	}
	return r
}

func errorResult(err error) *entryResult {
	out, code := fhir.OutcomeFromError(err)
	return &entryResult{status: statusLine(code), outcome: out.Encode()}
}

func (p *Processor) responseBundle(bundleType string, results []*entryResult) *fhir.Bundle {
	b := fhir.NewBundle(bundleType, fhir.FormatInstant(time.Now().UTC()))
	for _, r := range results {
		entry := fhir.BundleEntry{
			FullURL:  r.fullURL,
			Resource: r.doc,
			Response: &fhir.BundleResponse{
				Status:       r.status,
				Location:     r.loc,
				Etag:         r.etag,
				LastModified: r.lastMod,
				Outcome:      r.outcome,
			},
		}
		b.Entry = append(b.Entry, entry)
	}
	return b
}

func statusLine(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}
