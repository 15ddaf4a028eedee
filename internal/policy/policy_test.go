package policy

import "testing"

func baseDoc() *Doc {
	return &Doc{
		Version:  "1",
		Settings: SettingsDoc{Timezone: "UTC"},
		Blocklist: []DomainDoc{
			{Domain: "reddit.com"},
		},
		Allowlist: []DomainDoc{},
	}
}

func TestValidate_Minimal(t *testing.T) {
	doc := baseDoc()
	snap, err := Validate(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Blocklist) != 1 || snap.Blocklist[0].Name != "reddit.com" {
		t.Fatalf("unexpected blocklist: %+v", snap.Blocklist)
	}
	if snap.Protection.UnlockDelayHours != 48 {
		t.Errorf("expected default unlock delay 48h, got %d", snap.Protection.UnlockDelayHours)
	}
}

func TestValidate_UnknownTimezone(t *testing.T) {
	doc := baseDoc()
	doc.Settings.Timezone = "Not/AZone"
	if _, err := Validate(doc); err == nil {
		t.Fatal("expected error for unresolvable timezone")
	}
}

func TestValidate_UnrecognizedVersion(t *testing.T) {
	doc := baseDoc()
	doc.Version = "99"
	if _, err := Validate(doc); err == nil {
		t.Fatal("expected error for unrecognized version")
	}
}

func TestValidate_CrossListDuplication(t *testing.T) {
	doc := baseDoc()
	doc.Allowlist = []DomainDoc{{Domain: "reddit.com"}}
	if _, err := Validate(doc); err == nil {
		t.Fatal("expected error for domain in both blocklist and allowlist")
	}
}

// S5: subdomain overlap is a warning, not an error.
func TestValidate_SubdomainOverlapIsWarning(t *testing.T) {
	doc := &Doc{
		Version:   "1",
		Settings:  SettingsDoc{Timezone: "UTC"},
		Blocklist: []DomainDoc{{Domain: "amazon.com"}},
		Allowlist: []DomainDoc{{Domain: "aws.amazon.com"}},
	}
	snap, err := Validate(doc)
	if err != nil {
		t.Fatalf("expected subdomain overlap to validate with a warning, got error: %v", err)
	}
	if len(snap.Warnings) == 0 {
		t.Error("expected a warning about the subdomain overlap")
	}
}

func TestValidate_InvalidDomain(t *testing.T) {
	doc := baseDoc()
	doc.Blocklist = []DomainDoc{{Domain: "not a domain!!"}}
	if _, err := Validate(doc); err == nil {
		t.Fatal("expected error for invalid domain syntax")
	}
}

func TestValidate_DuplicateCategoryID(t *testing.T) {
	doc := baseDoc()
	doc.Categories = []CategoryDoc{
		{ID: "gaming-extra", Domains: []string{"a.com"}},
		{ID: "gaming-extra", Domains: []string{"b.com"}},
	}
	if _, err := Validate(doc); err == nil {
		t.Fatal("expected error for duplicate category id")
	}
}

func TestValidate_DomainInMultipleCategories(t *testing.T) {
	doc := baseDoc()
	doc.Categories = []CategoryDoc{
		{ID: "one", Domains: []string{"shared.com"}},
		{ID: "two", Domains: []string{"shared.com"}},
	}
	if _, err := Validate(doc); err == nil {
		t.Fatal("expected error for domain in more than one category")
	}
}

func TestValidate_UnknownNativeCategory(t *testing.T) {
	doc := baseDoc()
	doc.NextDNS = &NativeDoc{Categories: []NativeEntryDoc{{ID: "not-a-real-category"}}}
	if _, err := Validate(doc); err == nil {
		t.Fatal("expected error for unknown native category id")
	}
}

func TestValidate_ProtectionMinimum(t *testing.T) {
	doc := baseDoc()
	doc.Protection = &ProtectionDoc{UnlockDelayHours: 1}
	if _, err := Validate(doc); err == nil {
		t.Fatal("expected error for unlock_delay_hours below minimum of 24")
	}
}

func TestValidate_InvalidUnblockDelay(t *testing.T) {
	doc := baseDoc()
	doc.Blocklist = []DomainDoc{{Domain: "x.com", UnblockDelay: "1h30m"}}
	if _, err := Validate(doc); err == nil {
		t.Fatal("expected error for mixed-unit unblock_delay")
	}
}

func TestValidate_ScheduleRejects2400(t *testing.T) {
	doc := baseDoc()
	doc.Blocklist = []DomainDoc{{
		Domain: "x.com",
		Schedule: &ScheduleDoc{AvailableHours: []RuleDoc{{
			Days:       []string{"monday"},
			TimeRanges: []RangeDoc{{Start: "00:00", End: "24:00"}},
		}}},
	}}
	if _, err := Validate(doc); err == nil {
		t.Fatal("expected error for 24:00 end time")
	}
}
