package config

type Config struct {
	ID            string
	BindAddr      string
	BindPort      int
	AdvertiseAddr string
	AdvertisePort int
	OnNodeJoin    func(id string)
	OnNodeLeave   func(id string)
}
