package repository

// Entities lists every table the engine owns, in dependency order. Tests
// auto-migrate these; production uses the goose migrations.
func Entities() []interface{} {
	return []interface{}{
		&ClientEntity{},
		&PartnerEntity{},
		&TransactionEntity{},
		&PartnerDealEntity{},
		&NPSResponseEntity{},
	}
}
