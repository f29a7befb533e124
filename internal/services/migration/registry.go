package migration

import (
	"fmt"

	"github.com/metahubco/metahub-core/internal/schema"
)

// CurrentStructureVersion is the platform's current DDL generation for
// branch schemas.
const CurrentStructureVersion = 3

// CurrentTemplateVersionLabel is the current generation of the template
// catalog seeded into branch schemas.
const CurrentTemplateVersionLabel = "templates-2025.2"

// structuralMigrations is the append-only migration sequence for branch
// schemas. Entries are ordered by ascending version and are never edited or
// removed once released; new structure generations append here and bump
// CurrentStructureVersion.
var structuralMigrations = []StructuralMigration{
	{
		Version: 1,
		Name:    "create_objects",
		Statements: func(target schema.SafeIdentifier) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE %s.objects (
					object_id UUID PRIMARY KEY,
					object_key TEXT NOT NULL,
					object_type TEXT NOT NULL,
					payload JSONB NOT NULL DEFAULT '{}',
					created TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated TIMESTAMPTZ NOT NULL DEFAULT now()
				)`, target.Quoted()),
				fmt.Sprintf(`CREATE INDEX objects_type_idx ON %s.objects (object_type)`, target.Quoted()),
			}
		},
	},
	{
		Version: 2,
		Name:    "create_publications",
		Statements: func(target schema.SafeIdentifier) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE %s.publications (
					publication_id UUID PRIMARY KEY,
					object_id UUID NOT NULL REFERENCES %s.objects (object_id) ON DELETE CASCADE,
					slug TEXT NOT NULL UNIQUE,
					published_at TIMESTAMPTZ,
					created TIMESTAMPTZ NOT NULL DEFAULT now()
				)`, target.Quoted(), target.Quoted()),
			}
		},
	},
	{
		Version: 3,
		Name:    "index_objects_object_key",
		Statements: func(target schema.SafeIdentifier) []string {
			return []string{
				fmt.Sprintf(`CREATE UNIQUE INDEX objects_key_idx ON %s.objects (object_key, object_type)`, target.Quoted()),
			}
		},
		// The coarse v1 index is superseded by the composite one; removing
		// it is destructive and requires explicit cleanup confirmation.
		Cleanup: func(target schema.SafeIdentifier) []string {
			return []string{
				fmt.Sprintf(`DROP INDEX IF EXISTS %s.objects_type_idx`, target.Quoted()),
			}
		},
	},
}

// templateSeeds is the append-only sequence of template catalog
// generations, ordered oldest first. Seeds are idempotent inserts so a
// branch cloned mid-sequence converges on re-apply.
var templateSeeds = []TemplateSeed{
	{
		Label: "templates-2025.1",
		Statements: func(target schema.SafeIdentifier) []string {
			return []string{
				fmt.Sprintf(`INSERT INTO %s.objects (object_id, object_key, object_type, payload)
					VALUES
						(gen_random_uuid(), 'default_note', 'template', '{"title": "Note"}'),
						(gen_random_uuid(), 'default_task', 'template', '{"title": "Task"}')
					ON CONFLICT DO NOTHING`, target.Quoted()),
			}
		},
	},
	{
		Label: "templates-2025.2",
		Statements: func(target schema.SafeIdentifier) []string {
			return []string{
				fmt.Sprintf(`INSERT INTO %s.objects (object_id, object_key, object_type, payload)
					VALUES
						(gen_random_uuid(), 'default_document', 'template', '{"title": "Document"}')
					ON CONFLICT DO NOTHING`, target.Quoted()),
			}
		},
	},
}

// pendingStructural returns the migrations above a branch's recorded
// structure version, in ascending order
func pendingStructural(structureVersion int) []StructuralMigration {
	var pending []StructuralMigration
	for _, m := range structuralMigrations {
		if m.Version > structureVersion {
			pending = append(pending, m)
		}
	}
	return pending
}

// pendingSeeds returns the template generations after a branch's recorded
// label, in release order. A branch with no label gets the full sequence.
func pendingSeeds(label *string) []TemplateSeed {
	start := 0
	if label != nil {
		for i, t := range templateSeeds {
			if t.Label == *label {
				start = i + 1
				break
			}
		}
	}
	return templateSeeds[start:]
}
