package config

type Config struct {
	// DBDsn пустой - используется хранилище в памяти
	DBDsn string `yaml:"database_uri"`
}
