// Package cost classifies requests into cost categories and prices them.
// All functions are pure - no side effects.
package cost

// StorageType identifies which storage tier a request consumes.
type StorageType string

const (
	StorageNone StorageType = ""
	KeyStorage  StorageType = "KEYSTORAGE"
	DataStorage StorageType = "DATASTORAGE"
)

// AttestationType identifies a ledger-write operation.
type AttestationType string

const (
	AttestationNone    AttestationType = ""
	RegisterDID        AttestationType = "REGISTER_DID"
	UpdateDID          AttestationType = "UPDATE_DID"
	RegisterSchema     AttestationType = "REGISTER_SCHEMA"
	RegisterCredential AttestationType = "REGISTER_CREDENTIAL"
	UpdateCredential   AttestationType = "UPDATE_CREDENTIAL"
)

// Category is the outcome of classifying a request.
type Category struct {
	Storage     StorageType
	Attestation AttestationType
}

// Table holds credit prices per API method, storage type, and
// attestation type. The zero value is unusable; use DefaultTable.
type Table struct {
	API         map[string]int64
	Storage     map[StorageType]int64
	Attestation map[AttestationType]int64

	// AttestationDefault is charged in token units when an attestation
	// type has no explicit entry. Credit cost is always hid/10.
	AttestationDefault int64
}

// DefaultTable returns the built-in price table.
func DefaultTable() Table {
	return Table{
		API: map[string]int64{
			"GET":    1,
			"POST":   5,
			"PATCH":  3,
			"PUT":    3,
			"DELETE": 4,
		},
		Storage: map[StorageType]int64{
			KeyStorage:  2,
			DataStorage: 4,
		},
		Attestation: map[AttestationType]int64{
			RegisterDID:        50,
			UpdateDID:          50,
			RegisterSchema:     50,
			RegisterCredential: 50,
			UpdateCredential:   50,
		},
		AttestationDefault: 50,
	}
}

// Profile is the priced outcome of a classified request.
type Profile struct {
	APICost           int64
	StorageCost       int64
	AttestationHID    int64 // token units charged for the ledger write
	AttestationCredit int64 // credit units charged for the ledger write
	TotalCredits      int64 // APICost + StorageCost + AttestationCredit
}

// Price computes the cost profile for a method and category.
func (t Table) Price(method string, cat Category) Profile {
	var p Profile
	p.APICost = t.API[method]
	if cat.Storage != StorageNone {
		p.StorageCost = t.Storage[cat.Storage]
	}
	if cat.Attestation != AttestationNone {
		hid, ok := t.Attestation[cat.Attestation]
		if !ok || hid <= 0 {
			hid = t.AttestationDefault
		}
		p.AttestationHID = hid
		p.AttestationCredit = hid / 10
	}
	p.TotalCredits = p.APICost + p.StorageCost + p.AttestationCredit
	return p
}
