package dbx

// ConnConfig represents the configuration required for database connection.
type ConnConfig struct {
	VpcDirectConnection bool
	Host                string `validate:"required"`
	Port                int32  `validate:"gte=0,lte=65535"`
	DBName              string `validate:"required"`
	User                string `validate:"required"`
	Password            string `validate:"required"`
	MaxConn             int32  `validate:"gte=0"`
	IsLocalEnv          bool
}
