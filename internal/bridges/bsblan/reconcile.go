package bsblan

import (
	"context"
	"sort"
)

// reconcile brings every existing parameter object in line with its
// stored definition and the current writability rules. Objects are only
// updated, never deleted; stale IDs are reported for manual removal.
func (b *Bridge) reconcile(ctx context.Context) error {
	objects, err := b.store.ListAll(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(objects))
	for id := range objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var checked, fixed int
	for _, id := range ids {
		obj := objects[id]
		if !obj.IsParameter() {
			continue
		}
		checked++

		if staleObjectID(obj.ID) {
			b.warn(WarnStaleObject, "object ID is outdated, delete it manually",
				"object", obj.ID, "param", obj.Native.ID)
		}

		def := *obj.Native.BSB
		var changes []string

		rw := b.resolveRW(obj.Native.ID, nil, def)
		if obj.Common.Write != rw {
			obj.Common.Write = rw
			if obj.Common.Role == roleFor(!rw) {
				obj.Common.Role = roleFor(rw)
			}
			changes = append(changes, "write")
		}

		if obj.Common.States != nil && len(obj.Common.States) == 0 {
			obj.Common.States = nil
			changes = append(changes, "states")
		}

		if st := def.DataType.StorageType(); obj.Common.Type != st {
			obj.Common.Type = st
			changes = append(changes, "type")
		}

		if len(changes) == 0 {
			continue
		}
		if err := b.store.Update(ctx, obj); err != nil {
			b.logError("failed to update object", err, "object", obj.ID)
			continue
		}
		fixed++
		b.logInfo("object reconciled", "object", obj.ID, "fields", changes)
	}

	b.logInfo("reconciliation complete", "checked", checked, "updated", fixed)
	return nil
}
