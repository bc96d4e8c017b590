package sync

import (
	"github.com/aanfarhan/sso-sync/domain"
)

// standardSyncFields are always eligible for sync when they exist
// locally, whatever the remote sample looks like.
var standardSyncFields = []string{
	domain.ColName,
	domain.ColEmail,
	domain.ColUsername,
	"email_verified_at",
	domain.ColPassword,
	"phone",
	"avatar",
}

// alwaysPreserved are structurally protected columns the engine never
// writes from remote data: identifiers, timestamps, auth tokens, the
// oauth linkage itself, the activation flag and the soft-delete marker.
var alwaysPreserved = []string{
	domain.ColID,
	domain.ColCreatedAt,
	domain.ColUpdatedAt,
	domain.ColRememberToken,
	domain.ColOAuthID,
	domain.ColOAuthData,
	domain.ColSyncedAt,
	domain.ColIsActive,
	domain.ColDeletedAt,
}

// Classification partitions the local schema into syncable and
// preserved column sets. The two sets never overlap.
type Classification struct {
	Syncable  []string
	Preserved []string
}

// IsSyncable reports whether the column may be copied between sides.
func (c Classification) IsSyncable(column string) bool {
	return contains(c.Syncable, column)
}

// IsPreserved reports whether the engine must never overwrite the
// column locally.
func (c Classification) IsPreserved(column string) bool {
	return contains(c.Preserved, column)
}

// Classifier auto-partitions local columns against a sample remote
// record so hosts with arbitrary extra columns never need manual
// configuration to keep them safe.
type Classifier struct {
	// PreservedOverrides adds host-configured columns to the preserved
	// set.
	PreservedOverrides []string
}

// Classify partitions localColumns given a sample remote record. With a
// sample, a column is syncable when the remote side carries it or it is
// a standard field; everything else is preserved. Without a sample only
// the standard allow-list intersected with the local schema is syncable,
// so nothing local-only can be touched.
func (c Classifier) Classify(localColumns []string, sample domain.RemoteUser) Classification {
	var cls Classification
	for _, column := range localColumns {
		if c.preserved(column) {
			cls.Preserved = append(cls.Preserved, column)
			continue
		}
		syncable := contains(standardSyncFields, column)
		if sample != nil && sample.Has(column) {
			syncable = true
		}
		// Without a sample the standard allow-list is the only signal,
		// so nothing local-only is touched.
		if syncable {
			cls.Syncable = append(cls.Syncable, column)
		} else {
			cls.Preserved = append(cls.Preserved, column)
		}
	}
	return cls
}

// ClassifyForRecord is the per-user variant used during live sync: a
// column absent from this particular remote record is preserved even
// when the run-level sample suggested it was syncable.
func (c Classifier) ClassifyForRecord(localColumns []string, remote domain.RemoteUser) Classification {
	var cls Classification
	for _, column := range localColumns {
		if c.preserved(column) || remote == nil || !remote.Has(column) {
			cls.Preserved = append(cls.Preserved, column)
			continue
		}
		cls.Syncable = append(cls.Syncable, column)
	}
	return cls
}

func (c Classifier) preserved(column string) bool {
	return contains(alwaysPreserved, column) || contains(c.PreservedOverrides, column)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
