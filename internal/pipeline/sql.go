package pipeline

import (
	"fmt"

	"github.com/batchline/batchline/internal/config"
)

// The statement set is static configuration: text built once from the
// bucket/table layout, never derived from run input.

func createDatabaseSQL(cfg *config.Config) string {
	return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s;", cfg.Athena.Database)
}

func createTableSQL(cfg *config.Config) string {
	return fmt.Sprintf(`CREATE EXTERNAL TABLE IF NOT EXISTS %s.%s (
  facility_id string,
  facility_name string,
  location struct<
    address:string,
    city:string,
    state:string,
    zip:string>,
  employee_count int,
  services array<string>,
  labs array<struct<lab_name:string, certifications:array<string>>>,
  accreditations array<struct<accreditation_body:string, accreditation_id:string, valid_until:string>>
)
ROW FORMAT SERDE 'org.openx.data.jsonserde.JsonSerDe'
WITH SERDEPROPERTIES ('ignore.malformed.json'='true')
LOCATION 's3://%s/%s'
TBLPROPERTIES ('has_encrypted_data'='false');`,
		cfg.Athena.Database, cfg.Athena.Table, cfg.Data.Bucket, cfg.Data.RawPrefix)
}

func stateCountSQL(cfg *config.Config) string {
	return fmt.Sprintf(`SELECT
  location.state AS state,
  COUNT(1)        AS facilities
FROM %s.%s
GROUP BY location.state
ORDER BY facilities DESC;`, cfg.Athena.Database, cfg.Athena.Table)
}
