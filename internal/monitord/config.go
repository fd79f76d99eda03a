/*
ofono-monitor - Tracks cellular modems managed by oFono
Copyright (C) 2019, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package monitord

import (
	"errors"

	"github.com/TheCacophonyProject/go-config"

	"github.com/TheCacophonyProject/ofono-monitor/internal/ofono"
)

const configKey = "ofono-monitor"

// monitorSection is the ofono-monitor section of the device config file.
type monitorSection struct {
	Service      string `mapstructure:"service"`
	AutoPower    bool   `mapstructure:"auto-power"`
	ReportEvents bool   `mapstructure:"report-events"`
}

func defaultMonitorSection() monitorSection {
	return monitorSection{
		Service:      ofono.DefaultService,
		AutoPower:    true,
		ReportEvents: true,
	}
}

type MonitorConfig struct {
	Service      string
	AutoPower    bool
	ReportEvents bool
}

func ParseMonitorConfig(configDir string) (*MonitorConfig, error) {
	conf, err := config.New(configDir)
	if err != nil {
		return nil, err
	}

	section := defaultMonitorSection()
	if err := conf.Unmarshal(configKey, &section); err != nil {
		return nil, err
	}
	return section.toConfig()
}

func (s monitorSection) toConfig() (*MonitorConfig, error) {
	if s.Service == "" {
		return nil, errors.New("ofono-monitor service name can not be empty")
	}
	return &MonitorConfig{
		Service:      s.Service,
		AutoPower:    s.AutoPower,
		ReportEvents: s.ReportEvents,
	}, nil
}
