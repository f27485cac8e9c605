package seed

// Statement is a parameterised SQL statement run before the inserts.
type Statement struct {
	SQL  string        `json:"sql"`
	Args []interface{} `json:"args"`
	// Table is checked for existence first; the statement is skipped when it is missing.
	Table string `json:"table"`
}

// TableSeed is a set of rows inserted with INSERT OR IGNORE, so a row whose
// primary key already exists is left untouched.
type TableSeed struct {
	Table   string          `json:"table"`
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
	// DDL creates the table on scratch databases.
	DDL string `json:"ddl"`
}

// Dataset is a named group of fixes applied in one transaction.
type Dataset struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Statements  []Statement `json:"statements"`
	Tables      []TableSeed `json:"tables"`
	// CountTables are reported after the seed runs.
	CountTables []string `json:"countTables"`
}

var knowledgeItems = TableSeed{
	Table:   "knowledge_items",
	Columns: []string{"id", "dao_id", "module_id", "category", "title", "content", "source", "confidence", "tags"},
	DDL: `CREATE TABLE IF NOT EXISTS knowledge_items (
    id TEXT PRIMARY KEY,
    dao_id TEXT,
    module_id TEXT,
    category TEXT,
    title TEXT,
    content TEXT,
    source TEXT,
    confidence REAL,
    tags TEXT
)`,
	Rows: [][]interface{}{
		{"ki-1", "1", "governance", "governance", "Voting Process Guide", "All governance proposals require a 50% quorum of token-weighted votes. Voting periods last 7 days.", "system", 0.95, "governance,voting"},
		{"ki-2", "1", "governance", "policy", "Treasury Spending Policy", "All treasury withdrawals over 10,000 SODA require multi-sig approval from at least 2 of 3 signers.", "system", 0.95, "treasury,policy"},
		{"ki-3", "1", "legal", "terms", "Token Vesting Schedule", "Founder tokens vest over 48 months with a 12-month cliff. Advisor tokens vest over 24 months.", "system", 0.9, "tokens,vesting"},
		{"ki-4", "1", "governance", "procedure", "Proposal Submission Process", "Any token holder can submit a proposal. It enters a 48-hour review period before voting opens.", "system", 0.9, "governance,proposals"},
		{"ki-5", "1", "governance", "policy", "Council Election Rules", "Council seats are filled by token-weighted vote every 6 months. Minimum 100,000 SODA to run.", "system", 0.85, "council,elections"},
		{"ki-6", "1", "legal", "contract", "Operating Agreement Summary", "SodaWorld DAO operates as a Wyoming DAO LLC. Members have limited liability.", "system", 0.95, "legal,structure"},
		{"ki-7", "1", "governance", "decision", "Token Distribution Rationale", "25% founders, 25% advisors, 25% community, 25% public sale \u2014 balanced stakeholder model.", "system", 0.9, "tokens,distribution"},
		{"ki-8", "1", "community", "resource", "Community Guidelines", "Respectful discourse, no spam, constructive criticism. Violations may result in reputation penalties.", "system", 0.85, "community,rules"},
		{"ki-9", "1", "governance", "metric", "Quorum Requirements", "Standard proposals: 50% quorum. Constitutional amendments: 75% quorum. Emergency proposals: 33% quorum.", "system", 0.9, "governance,quorum"},
		{"ki-10", "1", "governance", "goal", "Q1 2026 Objectives", "Launch marketplace, onboard 50 new members, deploy governance v2, establish 3 community partnerships.", "system", 0.8, "goals,roadmap"},
	},
}

var bounties = TableSeed{
	Table: "bounties",
	Columns: []string{"id", "dao_id", "title", "description", "reward_amount", "reward_token", "status",
		"created_by", "claimed_by", "deadline", "deliverables", "tags"},
	DDL: `CREATE TABLE IF NOT EXISTS bounties (
    id TEXT PRIMARY KEY,
    dao_id TEXT,
    title TEXT,
    description TEXT,
    reward_amount REAL,
    reward_token TEXT,
    status TEXT,
    created_by TEXT,
    claimed_by TEXT,
    deadline TEXT,
    deliverables TEXT,
    tags TEXT
)`,
	Rows: [][]interface{}{
		{"b-1", "1", "Build Token Staking Dashboard", "Create a React component showing staking rewards and APY calculations", 5000, "SODA", "open", "system", nil, "2026-04-01", "React component,API integration,unit tests", "frontend,staking"},
		{"b-2", "1", "Write Security Audit Report", "Comprehensive security audit of all API endpoints and authentication flows", 8000, "SODA", "open", "system", nil, "2026-03-15", "Audit report,vulnerability list,fix recommendations", "security,audit"},
		{"b-3", "1", "Design DAO Marketing Materials", "Create social media templates, pitch deck, and brand guidelines", 3000, "SODA", "in_progress", "system", nil, "2026-03-01", "Social templates,pitch deck,brand guide", "design,marketing"},
		{"b-4", "1", "Implement Multi-language Support", "Add i18n to the frontend with English, Spanish, and Portuguese", 4000, "SODA", "open", "system", nil, "2026-05-01", "i18n config,3 language files,locale switcher", "frontend,i18n"},
	},
}

var daos = TableSeed{
	Table:   "daos",
	Columns: []string{"id", "daoName", "description"},
	DDL: `CREATE TABLE IF NOT EXISTS daos (
    id INTEGER PRIMARY KEY,
    daoName TEXT,
    description TEXT
)`,
}

var builtin = []Dataset{
	{
		Name:        "sodaworld",
		Description: "DAO name fix plus knowledge items and bounties for the SodaWorld backend",
		Statements: []Statement{{
			SQL:   "UPDATE daos SET daoName = ?, description = ? WHERE id = 1",
			Args:  []interface{}{"SodaWorld DAO", "A decentralized autonomous organization for the SodaWorld community"},
			Table: "daos",
		}},
		Tables: []TableSeed{daos, knowledgeItems, bounties},
		CountTables: []string{"daos", "council_members", "proposals", "agreements", "milestones",
			"marketplace_items", "knowledge_items", "bounties", "agreement_signatures", "votes"},
	},
	{
		Name:        "knowledge",
		Description: "Knowledge base items only",
		Tables:      []TableSeed{knowledgeItems},
		CountTables: []string{"knowledge_items"},
	},
	{
		Name:        "bounties",
		Description: "Bounty board entries only",
		Tables:      []TableSeed{bounties},
		CountTables: []string{"bounties"},
	},
}

// Datasets returns the built-in datasets.
func Datasets() []Dataset {
	return builtin
}

// Lookup returns the built-in dataset called name.
func Lookup(name string) (Dataset, bool) {
	for _, ds := range builtin {
		if ds.Name == name {
			return ds, true
		}
	}
	return Dataset{}, false
}
