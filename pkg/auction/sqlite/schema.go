package sqlite

// Timestamps are unix nanoseconds in UTC; calendar dates are YYYY-MM-DD text.
const schema = `
CREATE TABLE IF NOT EXISTS sales (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	county TEXT NOT NULL,
	sale_type TEXT NOT NULL CHECK (sale_type IN ('upset','judicial','repository','sealed_bid','private_sale')),
	sale_date INTEGER,
	status TEXT NOT NULL DEFAULT 'scheduled' CHECK (status IN ('scheduled','cancelled','completed')),
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sales_county ON sales(county, sale_type, sale_date);

CREATE TABLE IF NOT EXISTS properties (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	county TEXT NOT NULL,
	parcel_id TEXT,
	sale_type_hint TEXT CHECK (sale_type_hint IN ('upset','judicial','repository','sealed_bid','private_sale')),
	sale_date_hint TEXT,
	sale_status_override TEXT CHECK (sale_status_override IN ('sold','withdrawn')),
	linked_sale_id INTEGER REFERENCES sales(id) ON DELETE SET NULL,
	auction_status TEXT NOT NULL DEFAULT 'unknown' CHECK (auction_status IN ('active','expired','sold','withdrawn','unknown')),
	status_updated_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_properties_unlinked ON properties(county, id) WHERE linked_sale_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_properties_linked_sale ON properties(linked_sale_id);

CREATE TABLE IF NOT EXISTS research_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	county TEXT NOT NULL,
	extracted_sale_date TEXT,
	extracted_sale_type TEXT,
	group_key TEXT NOT NULL,
	property_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','researching','resolved','failed')),
	assigned_agent TEXT,
	assigned_at INTEGER,
	resolved_sale_id INTEGER REFERENCES sales(id) ON DELETE SET NULL,
	resolution_notes TEXT,
	resolved_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_research_queue_active_group
	ON research_queue(group_key) WHERE status IN ('pending','researching');
CREATE INDEX IF NOT EXISTS idx_research_queue_pending
	ON research_queue(property_count DESC, created_at ASC) WHERE status = 'pending';
`
